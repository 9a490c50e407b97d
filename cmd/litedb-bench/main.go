// Command litedb-bench is a minimal throughput harness for pkg/litedb: it
// writes a configurable number of random keys, then reads them back, and
// reports ops/sec for each phase.
package main

import (
	"flag"
	"fmt"
	"log"
	"math/rand"
	"os"
	"time"

	"github.com/brinedb/litedb/pkg/litedb"
)

func main() {
	dir := flag.String("dir", "", "database directory (default: a temp dir that's removed on exit)")
	numKeys := flag.Int("keys", 100_000, "number of keys to write")
	keySize := flag.Int("key-size", 16, "key size in bytes")
	valueSize := flag.Int("value-size", 100, "value size in bytes")
	flag.Parse()

	workDir := *dir
	if workDir == "" {
		tmp, err := os.MkdirTemp("", "litedb-bench-*")
		if err != nil {
			log.Fatal(err)
		}
		defer os.RemoveAll(tmp)
		workDir = tmp
	}

	db, err := litedb.Open(workDir, litedb.Default())
	if err != nil {
		log.Fatal(err)
	}
	defer db.Close()

	keys := make([][]byte, *numKeys)
	values := make([][]byte, *numKeys)
	r := rand.New(rand.NewSource(1))
	for i := range keys {
		keys[i] = randomBytes(r, *keySize)
		values[i] = randomBytes(r, *valueSize)
	}

	start := time.Now()
	for i := range keys {
		if err := db.Set(keys[i], values[i]); err != nil {
			log.Fatal(err)
		}
	}
	writeElapsed := time.Since(start)

	start = time.Now()
	var misses int
	for i := range keys {
		_, ok, err := db.Get(keys[i])
		if err != nil {
			log.Fatal(err)
		}
		if !ok {
			misses++
		}
	}
	readElapsed := time.Since(start)

	fmt.Printf("keys=%d key_size=%d value_size=%d\n", *numKeys, *keySize, *valueSize)
	fmt.Printf("write: %s (%.0f ops/sec)\n", writeElapsed, float64(*numKeys)/writeElapsed.Seconds())
	fmt.Printf("read:  %s (%.0f ops/sec), misses=%d\n", readElapsed, float64(*numKeys)/readElapsed.Seconds(), misses)
}

func randomBytes(r *rand.Rand, n int) []byte {
	b := make([]byte, n)
	r.Read(b)
	return b
}
