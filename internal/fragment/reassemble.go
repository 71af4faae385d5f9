package fragment

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"slices"

	"github.com/rs/zerolog/log"
	"github.com/tanq16/extdl/internal/backend"
	"github.com/tanq16/extdl/internal/utils"
)

// Decrypter transforms the raw bytes of one fragment. The algorithm is supplied
// by the caller; Identity is used when the stream is not encrypted.
type Decrypter func(frag utils.Fragment, data []byte) ([]byte, error)

func Identity(_ utils.Fragment, data []byte) ([]byte, error) {
	return data, nil
}

type Reassembler struct {
	Backend string
	Policy  utils.RetryPolicy
	Decrypt Decrypter
}

// Reassemble concatenates the fragment files of tempPath into tempPath in
// ascending index order. Missing fragments are skipped only when the policy
// allows it and the index is past the protected prefix.
func (r *Reassembler) Reassemble(tempPath string, fragments []utils.Fragment) (err error) {
	decrypt := r.Decrypt
	if decrypt == nil {
		decrypt = Identity
	}
	ordered := slices.Clone(fragments)
	slices.SortStableFunc(ordered, func(a, b utils.Fragment) int { return a.Index - b.Index })

	dest, err := os.Create(tempPath)
	if err != nil {
		return fmt.Errorf("error creating output file: %v", err)
	}
	w := bufio.NewWriterSize(dest, utils.DefaultBufferSize)
	defer func() {
		if ferr := w.Flush(); ferr != nil && err == nil {
			err = fmt.Errorf("error writing output file: %v", ferr)
		}
		if cerr := dest.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("error closing output file: %v", cerr)
		}
	}()

	skipped := 0
	for _, frag := range ordered {
		fragPath := utils.FragmentPath(tempPath, frag.Index)
		data, rerr := os.ReadFile(fragPath)
		if rerr != nil {
			if r.Policy.SkipUnavailable && frag.Index >= r.Policy.Protected() {
				log.Warn().Str("op", r.Backend+"/reassemble").Msgf("Skipping fragment %d: %v", frag.Index, rerr)
				skipped++
				continue
			}
			return &backend.FragmentError{Index: frag.Index, Err: rerr}
		}
		out, derr := decrypt(frag, data)
		if derr != nil {
			return fmt.Errorf("error decrypting fragment %d: %v", frag.Index, derr)
		}
		if _, werr := w.Write(out); werr != nil {
			return fmt.Errorf("error writing fragment %d: %v", frag.Index, werr)
		}
		if !r.Policy.KeepFragments {
			if rmErr := os.Remove(fragPath); rmErr != nil {
				log.Debug().Str("op", r.Backend+"/reassemble").Err(rmErr).Msgf("Could not remove %s", fragPath)
			}
		}
	}
	if skipped > 0 {
		log.Warn().Str("op", r.Backend+"/reassemble").Msgf("%d of %d fragments were unavailable", skipped, len(ordered))
	}
	if rmErr := os.Remove(utils.URLListPath(tempPath)); rmErr != nil && !errors.Is(rmErr, os.ErrNotExist) {
		log.Debug().Str("op", r.Backend+"/reassemble").Err(rmErr).Msg("Could not remove url list")
	}
	return nil
}
