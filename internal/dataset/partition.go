package dataset

import "fmt"

// Chunk is a contiguous, bounded-size subrange of the identified dataset.
type Chunk struct {
	ID   int
	Rows Dataset
}

func (c Chunk) Len() int {
	return len(c.Rows.Rows)
}

// Partition splits d into chunks of size rows. Chunk k holds rows
// [k*size, min((k+1)*size, N)). An empty dataset yields no chunks and a
// PartitionError.
func Partition(d *Dataset, size int) ([]Chunk, error) {
	if size <= 0 {
		return nil, fmt.Errorf("chunk size must be positive, got %d", size)
	}

	n := d.Len()
	if n == 0 {
		return []Chunk{}, NewErrEmptyPartition()
	}

	chunks := make([]Chunk, 0, (n+size-1)/size)
	for from := 0; from < n; from += size {
		to := min(from+size, n)
		chunks = append(chunks, Chunk{ID: from / size, Rows: d.Slice(from, to)})
	}

	return chunks, nil
}
