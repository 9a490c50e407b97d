package litedb

import (
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"math/rand"

	"github.com/cespare/xxhash/v2"
)

// BloomFilter is a probabilistic set membership test: false positives are
// possible, false negatives are not. Used to skip SSTable reads for keys
// that definitely aren't present (spec.md §4.4).
//
// Hash mixing follows the Kirsch-Mitzenmacher double-hashing scheme
// (h(i) = h1 + i*h2) seeded from two independent 64-bit pairs, generalizing
// the original implementation's SipHash-keyed Bloom filter to xxhash, the
// fast non-cryptographic hash this corpus's other LSM stores depend on (see
// DESIGN.md).
type BloomFilter struct {
	bits       []byte
	bitmapBits uint64
	kNum       uint32
	seeds      [4]uint64
}

// NewBloomFilter sizes a filter from a target bitmap size in bytes and an
// expected item count, picking the number of hash functions that minimizes
// the false-positive rate for that ratio.
func NewBloomFilter(sizeBytes, itemCount int) *BloomFilter {
	bits := uint64(sizeBytes) * 8
	if bits == 0 {
		bits = 8
	}
	return &BloomFilter{
		bits:       make([]byte, (bits+7)/8),
		bitmapBits: bits,
		kNum:       optimalKNum(bits, itemCount),
		seeds: [4]uint64{
			rand.Uint64(), rand.Uint64(),
			rand.Uint64(), rand.Uint64(),
		},
	}
}

func optimalKNum(bits uint64, itemCount int) uint32 {
	if itemCount <= 0 {
		return 1
	}
	k := int(math.Round(float64(bits) / float64(itemCount) * math.Ln2))
	if k < 1 {
		k = 1
	}
	if k > 30 {
		k = 30
	}
	return uint32(k)
}

// Add marks key as present.
func (bf *BloomFilter) Add(key []byte) {
	h1, h2 := bf.mix(key)
	for i := uint32(0); i < bf.kNum; i++ {
		idx := (h1 + uint64(i)*h2) % bf.bitmapBits
		bf.bits[idx/8] |= 1 << (idx % 8)
	}
}

// PotentiallyContainsKey reports whether key might be present. A false
// result is a definite negative.
func (bf *BloomFilter) PotentiallyContainsKey(key []byte) bool {
	h1, h2 := bf.mix(key)
	for i := uint32(0); i < bf.kNum; i++ {
		idx := (h1 + uint64(i)*h2) % bf.bitmapBits
		if bf.bits[idx/8]&(1<<(idx%8)) == 0 {
			return false
		}
	}
	return true
}

func (bf *BloomFilter) mix(key []byte) (h1, h2 uint64) {
	h1 = seededHash(bf.seeds[0], bf.seeds[1], key)
	h2 = seededHash(bf.seeds[2], bf.seeds[3], key)
	if h2 == 0 {
		h2 = 1 // avoid degenerating to a single probed bit
	}
	return h1, h2
}

func seededHash(seedHi, seedLo uint64, key []byte) uint64 {
	d := xxhash.New()
	var seedBuf [16]byte
	binary.LittleEndian.PutUint64(seedBuf[0:8], seedHi)
	binary.LittleEndian.PutUint64(seedBuf[8:16], seedLo)
	d.Write(seedBuf[:])
	d.Write(key)
	return d.Sum64()
}

// State snapshots the filter into its on-disk representation.
func (bf *BloomFilter) State() BloomFilterState {
	return BloomFilterState{
		Bytes:      bf.bits,
		BitmapBits: bf.bitmapBits,
		KNum:       bf.kNum,
		Seeds:      bf.seeds,
	}
}

// FromBloomFilterState reconstructs a filter from a decoded state, as when
// opening an existing SSTable.
func FromBloomFilterState(s BloomFilterState) *BloomFilter {
	return &BloomFilter{
		bits:       s.Bytes,
		bitmapBits: s.BitmapBits,
		kNum:       s.KNum,
		seeds:      s.Seeds,
	}
}

// BloomFilterState is the serialized form of a BloomFilter: the bit array,
// its bit-length, the number of hash functions, and the four-word seed
// (analogous to the original's pair of SipHash keys), in that order
// (spec.md §4.4).
type BloomFilterState struct {
	Bytes      []byte
	BitmapBits uint64
	KNum       uint32
	Seeds      [4]uint64
}

// Encode writes the Bloom filter state in its on-disk order.
func (s BloomFilterState) Encode(w io.Writer) (int, error) {
	n, err := writeLenPrefixed(w, s.Bytes)
	if err != nil {
		return 0, err
	}
	var fixed [8 + 4 + 32]byte
	binary.LittleEndian.PutUint64(fixed[0:8], s.BitmapBits)
	binary.LittleEndian.PutUint32(fixed[8:12], s.KNum)
	for i, seed := range s.Seeds {
		binary.LittleEndian.PutUint64(fixed[12+i*8:20+i*8], seed)
	}
	if _, err := w.Write(fixed[:]); err != nil {
		return 0, fmt.Errorf("%w: %v", ErrEncoding, err)
	}
	return n + len(fixed), nil
}

// DecodeBloomFilterStateAt reads a BloomFilterState written by Encode
// directly out of an io.ReaderAt at the given offset.
func DecodeBloomFilterStateAt(ra io.ReaderAt, offset int64) (BloomFilterState, int, error) {
	data, n1, err := readLenPrefixedAt(ra, offset)
	if err != nil {
		return BloomFilterState{}, 0, err
	}
	var fixed [8 + 4 + 32]byte
	if _, err := ra.ReadAt(fixed[:], offset+int64(n1)); err != nil {
		return BloomFilterState{}, 0, fmt.Errorf("%w: %v", ErrDecoding, err)
	}
	s := BloomFilterState{
		Bytes:      data,
		BitmapBits: binary.LittleEndian.Uint64(fixed[0:8]),
		KNum:       binary.LittleEndian.Uint32(fixed[8:12]),
	}
	for i := range s.Seeds {
		s.Seeds[i] = binary.LittleEndian.Uint64(fixed[12+i*8 : 20+i*8])
	}
	return s, n1 + len(fixed), nil
}

// DecodeBloomFilterState reads a BloomFilterState written by Encode.
func DecodeBloomFilterState(r io.Reader) (BloomFilterState, int, error) {
	bytes, n1, err := readLenPrefixed(r)
	if err != nil {
		return BloomFilterState{}, 0, err
	}
	var fixed [8 + 4 + 32]byte
	if _, err := io.ReadFull(r, fixed[:]); err != nil {
		return BloomFilterState{}, 0, fmt.Errorf("%w: %v", ErrDecoding, err)
	}
	s := BloomFilterState{
		Bytes:      bytes,
		BitmapBits: binary.LittleEndian.Uint64(fixed[0:8]),
		KNum:       binary.LittleEndian.Uint32(fixed[8:12]),
	}
	for i := range s.Seeds {
		s.Seeds[i] = binary.LittleEndian.Uint64(fixed[12+i*8 : 20+i*8])
	}
	return s, n1 + len(fixed), nil
}
