// Copyright 2024 The Mitosis Authors. All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package memory populates and verifies fresh anonymous mappings.
//
// Every Region is a new private anonymous mapping, so touching it makes the
// kernel allocate pages and populate page tables, and unmapping it tears
// them down again. The Go heap would recycle memory instead.
package memory

import (
	"os"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

// ErrDataCorruption is returned when memory reads back something else than
// what was written.
var ErrDataCorruption = errors.New("data corruption")

// PageSize is the system page size.
var PageSize = os.Getpagesize()

// Region is an anonymous private read-write mapping.
type Region struct {
	data []byte
}

// Map creates a new Region of at least size bytes.
func Map(size int) (*Region, error) {
	if size <= 0 {
		return nil, errors.Errorf("invalid mapping size %d", size)
	}
	data, err := unix.Mmap(-1, 0, size, unix.PROT_READ|unix.PROT_WRITE,
		unix.MAP_PRIVATE|unix.MAP_ANONYMOUS)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to map %d bytes", size)
	}
	return &Region{data: data}, nil
}

// Len returns the size of the Region.
func (r *Region) Len() int {
	return len(r.data)
}

// Fill writes one pattern byte every stride bytes.
func (r *Region) Fill(seed byte, stride int) {
	stride = normalize(stride)
	for i := 0; i < len(r.data); i += stride {
		r.data[i] = pattern(seed, i, stride)
	}
}

// Verify checks the bytes written by Fill with the same seed and stride.
func (r *Region) Verify(seed byte, stride int) error {
	stride = normalize(stride)
	for i := 0; i < len(r.data); i += stride {
		if expected := pattern(seed, i, stride); r.data[i] != expected {
			return errors.Wrapf(ErrDataCorruption, "offset %d of %d bytes: read %#x, expected %#x",
				i, len(r.data), r.data[i], expected)
		}
	}
	return nil
}

// Unmap releases the Region.
func (r *Region) Unmap() error {
	if r.data == nil {
		return nil
	}
	if err := unix.Munmap(r.data); err != nil {
		return errors.Wrapf(err, "failed to unmap %d bytes", len(r.data))
	}
	r.data = nil
	return nil
}

// Cycle maps size bytes, fills and verifies them, and unmaps them.
func Cycle(size, stride int, seed byte) error {
	r, err := Map(size)
	if err != nil {
		return err
	}

	r.Fill(seed, stride)
	verr := r.Verify(seed, stride)

	if err := r.Unmap(); err != nil && verr == nil {
		return err
	}
	return verr
}

// IsDataCorruption returns true if err is, or wraps, ErrDataCorruption.
func IsDataCorruption(err error) bool {
	return errors.Is(err, ErrDataCorruption)
}

func normalize(stride int) int {
	if stride <= 0 {
		return PageSize
	}
	return stride
}

func pattern(seed byte, offset, stride int) byte {
	return seed + byte(offset/stride)
}
