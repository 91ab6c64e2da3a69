package hasher

import (
	"crypto/md5"
	"crypto/sha1"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"hash"
	"io"
	"os"
	"sort"
	"strings"
	"sync"

	"github.com/cespare/xxhash/v2"
	"golang.org/x/exp/mmap"
	"lukechampine.com/blake3"
)

// DefaultChunkSize matches the historical read size of the scanner.
const DefaultChunkSize = 4096

const (
	ReadModeAuto   = "auto"
	ReadModeStream = "stream"
	ReadModeMmap   = "mmap"
)

var constructors = map[string]func() hash.Hash{
	"md5":    md5.New,
	"sha1":   sha1.New,
	"sha256": sha256.New,
	"blake3": func() hash.Hash { return blake3.New(32, nil) },
	"xxh64":  func() hash.Hash { return xxhash.New() },
}

var digestLengths = map[string]int{
	"md5":    md5.Size * 2,
	"sha1":   sha1.Size * 2,
	"sha256": sha256.Size * 2,
	"blake3": 64,
	"xxh64":  16,
}

var openMmapReader = mmap.Open

// New returns a fresh accumulator for the named algorithm.
func New(algorithm string) (hash.Hash, error) {
	ctor, ok := constructors[strings.ToLower(algorithm)]
	if !ok {
		return nil, fmt.Errorf("unsupported hash algorithm: %s", algorithm)
	}
	return ctor(), nil
}

// Supported lists the algorithm names accepted by New, sorted.
func Supported() []string {
	names := make([]string, 0, len(constructors))
	for name := range constructors {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// DigestLength is the hex length of a digest for algorithm, or 0 if unknown.
func DigestLength(algorithm string) int {
	return digestLengths[strings.ToLower(algorithm)]
}

// Options controls how file content is read into the accumulator.
type Options struct {
	Algorithm   string
	ChunkSize   int
	ReadMode    string
	MmapMinSize int64
	// HeadBytes, when positive, captures up to that many leading bytes of
	// the content into Result.Head.
	HeadBytes int
}

// Result is the outcome of hashing one file.
type Result struct {
	Digest string
	Size   int64
	Head   []byte
}

func (o Options) normalized() Options {
	if o.Algorithm == "" {
		o.Algorithm = "md5"
	}
	if o.ChunkSize <= 0 {
		o.ChunkSize = DefaultChunkSize
	}
	o.ReadMode = strings.ToLower(strings.TrimSpace(o.ReadMode))
	if o.ReadMode == "" {
		o.ReadMode = ReadModeStream
	}
	if o.MmapMinSize <= 0 {
		o.MmapMinSize = 128 * 1024
	}
	return o
}

var bufferPools sync.Map // chunk size -> *sync.Pool

func bufferPool(size int) *sync.Pool {
	if pool, ok := bufferPools.Load(size); ok {
		return pool.(*sync.Pool)
	}
	pool, _ := bufferPools.LoadOrStore(size, &sync.Pool{
		New: func() interface{} {
			buf := make([]byte, size)
			return &buf
		},
	})
	return pool.(*sync.Pool)
}

// Sum computes the hex digest of the file at path. Any open or read failure
// is returned; the caller decides whether it is fatal.
func Sum(path string, opts Options) (Result, error) {
	opts = opts.normalized()
	h, err := New(opts.Algorithm)
	if err != nil {
		return Result{}, err
	}

	file, err := os.Open(path)
	if err != nil {
		return Result{}, err
	}
	defer file.Close()

	var reader io.Reader = file
	if opts.ReadMode != ReadModeStream {
		info, statErr := file.Stat()
		if statErr == nil && info.Size() > 0 && (opts.ReadMode == ReadModeMmap || info.Size() >= opts.MmapMinSize) {
			r, mmapErr := openMmapReader(path)
			if mmapErr == nil {
				defer r.Close()
				reader = io.NewSectionReader(r, 0, int64(r.Len()))
			} else if opts.ReadMode == ReadModeMmap {
				return Result{}, mmapErr
			}
		}
	}

	var head []byte
	if opts.HeadBytes > 0 {
		head = make([]byte, 0, opts.HeadBytes)
	}
	n, err := fold(h, reader, opts.ChunkSize, &head)
	if err != nil {
		return Result{Size: n}, err
	}
	return Result{Digest: hex.EncodeToString(h.Sum(nil)), Size: n, Head: head}, nil
}

// SumReader computes the hex digest of everything read from r.
func SumReader(r io.Reader, opts Options) (string, error) {
	opts = opts.normalized()
	h, err := New(opts.Algorithm)
	if err != nil {
		return "", err
	}
	if _, err := fold(h, r, opts.ChunkSize, nil); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

func fold(h hash.Hash, r io.Reader, chunkSize int, head *[]byte) (int64, error) {
	pool := bufferPool(chunkSize)
	bufferPtr := pool.Get().(*[]byte)
	defer pool.Put(bufferPtr)
	buffer := *bufferPtr

	var total int64
	for {
		n, readErr := r.Read(buffer)
		if n > 0 {
			// hash.Hash.Write never returns an error.
			_, _ = h.Write(buffer[:n])
			total += int64(n)
			if head != nil && len(*head) < cap(*head) {
				room := cap(*head) - len(*head)
				*head = append(*head, buffer[:min(n, room)]...)
			}
		}
		if readErr != nil {
			if readErr == io.EOF {
				return total, nil
			}
			return total, readErr
		}
	}
}
