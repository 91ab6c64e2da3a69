package fuzzy

import (
	"bufio"
	"os"

	"github.com/glaslos/tlsh"
)

type TLSHHasher struct{}

func (h TLSHHasher) Name() string {
	return "tlsh"
}

func (h TLSHHasher) HashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	hash, err := tlsh.HashReader(bufio.NewReader(f))
	if err != nil {
		return "", err
	}
	return hash.String(), nil
}

func (h TLSHHasher) Distance(a, b string) (int, error) {
	left, err := tlsh.ParseStringToTlsh(a)
	if err != nil {
		return 0, err
	}
	right, err := tlsh.ParseStringToTlsh(b)
	if err != nil {
		return 0, err
	}
	return left.Diff(right), nil
}

func init() {
	Register(TLSHHasher{})
}
