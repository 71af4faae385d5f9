package utils

import "regexp"

const DefaultBufferSize = 1024 * 1024 * 8 // 8MB buffer

const (
	DefaultFragmentRetries    = 10
	DefaultProtectedFragments = 2
	PartSuffix                = ".part"
	FragmentInfix             = "-Frag"
	URLListSuffix             = ".frag.urls"
)

const ToolUserAgent = "extdl/1.0"

var FragmentIDRegex = regexp.MustCompile(`^-Frag(\d+)$`)
var SocksProxyRegex = regexp.MustCompile(`^socks[\da-zA-Z]*://`)
var ProxySchemeRegex = regexp.MustCompile(`^[\da-zA-Z]+://`)
