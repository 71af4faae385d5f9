package fragment

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/tanq16/extdl/internal/backend"
	"github.com/tanq16/extdl/internal/utils"
)

func fragments(n int) []utils.Fragment {
	frags := make([]utils.Fragment, n)
	for i := range frags {
		frags[i] = utils.Fragment{Index: i, URL: fmt.Sprintf("https://cdn.example.com/seg%d.ts", i)}
	}
	return frags
}

func writeFragments(t *testing.T, tempPath string, contents map[int]string) {
	t.Helper()
	for idx, data := range contents {
		if err := os.WriteFile(utils.FragmentPath(tempPath, idx), []byte(data), 0644); err != nil {
			t.Fatal(err)
		}
	}
}

func TestReassembleOrder(t *testing.T) {
	for _, keep := range []bool{false, true} {
		t.Run(fmt.Sprintf("keep=%v", keep), func(t *testing.T) {
			dir := t.TempDir()
			tempPath := filepath.Join(dir, "video.mp4.part")
			writeFragments(t, tempPath, map[int]string{0: "A", 1: "B", 2: "C"})
			if _, err := WriteURLList(tempPath, fragments(3)); err != nil {
				t.Fatal(err)
			}

			// out of order on purpose
			frags := []utils.Fragment{{Index: 2}, {Index: 0}, {Index: 1}}
			r := &Reassembler{Backend: "aria2c", Policy: utils.RetryPolicy{KeepFragments: keep}}
			if err := r.Reassemble(tempPath, frags); err != nil {
				t.Fatalf("Reassemble() error = %v", err)
			}
			data, err := os.ReadFile(tempPath)
			if err != nil {
				t.Fatal(err)
			}
			if string(data) != "ABC" {
				t.Errorf("content = %q, want ABC", data)
			}
			for i := 0; i < 3; i++ {
				_, err := os.Stat(utils.FragmentPath(tempPath, i))
				if keep && err != nil {
					t.Errorf("fragment %d should be kept: %v", i, err)
				}
				if !keep && !errors.Is(err, os.ErrNotExist) {
					t.Errorf("fragment %d should be removed", i)
				}
			}
			if _, err := os.Stat(utils.URLListPath(tempPath)); !errors.Is(err, os.ErrNotExist) {
				t.Errorf("url list should be removed after reassembly")
			}
		})
	}
}

func TestReassembleMissing(t *testing.T) {
	tests := []struct {
		name    string
		missing int
		policy  utils.RetryPolicy
		wantErr bool
	}{
		{"protected first fragment", 0, utils.RetryPolicy{SkipUnavailable: true}, true},
		{"protected second fragment", 1, utils.RetryPolicy{SkipUnavailable: true}, true},
		{"skippable middle fragment", 5, utils.RetryPolicy{SkipUnavailable: true}, false},
		{"skip disabled", 5, utils.RetryPolicy{}, true},
		{"wider protected prefix", 3, utils.RetryPolicy{SkipUnavailable: true, ProtectedOffset: 2}, true},
		{"no protected prefix", 0, utils.RetryPolicyFrom(utils.Options{"protected_fragments": 0}), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tempPath := filepath.Join(t.TempDir(), "stream.ts.part")
			contents := map[int]string{}
			var want strings.Builder
			for i := 0; i < 10; i++ {
				if i == tt.missing {
					continue
				}
				contents[i] = fmt.Sprintf("[%d]", i)
				want.WriteString(contents[i])
			}
			writeFragments(t, tempPath, contents)

			r := &Reassembler{Backend: "aria2c", Policy: tt.policy}
			err := r.Reassemble(tempPath, fragments(10))
			if tt.wantErr {
				var ferr *backend.FragmentError
				if !errors.As(err, &ferr) || ferr.Index != tt.missing {
					t.Fatalf("expected FragmentError for %d, got %v", tt.missing, err)
				}
				if !errors.Is(err, backend.ErrFragmentUnavailable) {
					t.Errorf("error should match ErrFragmentUnavailable")
				}
				return
			}
			if err != nil {
				t.Fatalf("Reassemble() error = %v", err)
			}
			data, _ := os.ReadFile(tempPath)
			if string(data) != want.String() {
				t.Errorf("content = %q, want %q", data, want.String())
			}
		})
	}
}

func TestReassembleDecrypt(t *testing.T) {
	tempPath := filepath.Join(t.TempDir(), "enc.ts.part")
	writeFragments(t, tempPath, map[int]string{0: "abc", 1: "def"})
	frags := []utils.Fragment{
		{Index: 0, Decrypt: map[string]string{"method": "upper"}},
		{Index: 1},
	}
	decrypt := func(frag utils.Fragment, data []byte) ([]byte, error) {
		if frag.Decrypt["method"] == "upper" {
			return bytes.ToUpper(data), nil
		}
		return data, nil
	}
	r := &Reassembler{Backend: "aria2c", Decrypt: decrypt}
	if err := r.Reassemble(tempPath, frags); err != nil {
		t.Fatal(err)
	}
	data, _ := os.ReadFile(tempPath)
	if string(data) != "ABCdef" {
		t.Errorf("content = %q, want ABCdef", data)
	}

	failing := func(utils.Fragment, []byte) ([]byte, error) { return nil, errors.New("bad key") }
	writeFragments(t, tempPath, map[int]string{0: "abc"})
	r = &Reassembler{Backend: "aria2c", Decrypt: failing}
	if err := r.Reassemble(tempPath, frags[:1]); err == nil {
		t.Errorf("expected decrypt error")
	}
}

func TestWriteURLList(t *testing.T) {
	tempPath := filepath.Join(t.TempDir(), "video.mp4.part")
	path, err := WriteURLList(tempPath, fragments(2))
	if err != nil {
		t.Fatal(err)
	}
	if path != utils.URLListPath(tempPath) {
		t.Errorf("path = %s", path)
	}
	data, _ := os.ReadFile(path)
	want := "https://cdn.example.com/seg0.ts\n\tout=video.mp4.part-Frag0\nhttps://cdn.example.com/seg1.ts\n\tout=video.mp4.part-Frag1"
	if string(data) != want {
		t.Errorf("url list = %q, want %q", data, want)
	}
}
