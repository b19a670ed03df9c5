// Copyright 2019 Intel Corporation. All Rights Reserved.
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

package sysfs

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// Get the trailing enumeration part of a name.
func getEnumeratedID(name string) ID {
	id := 0
	base := 1
	for idx := len(name) - 1; idx > 0; idx-- {
		d := name[idx]

		if '0' <= d && d <= '9' {
			id += base * (int(d) - '0')
			base *= 10
		} else {
			if base > 1 {
				return ID(id)
			}

			return Unknown
		}
	}

	return Unknown
}

// Read content of a sysfs entry and convert it according to the type of a given pointer.
func readSysfsEntry(base, entry string, ptr interface{}) (string, error) {
	path := filepath.Join(base, entry)

	blob, err := os.ReadFile(path)
	if err != nil {
		return "", sysfsError(path, "failed to read sysfs entry: %v", err)
	}
	buf := strings.TrimSpace(string(blob))

	switch p := ptr.(type) {
	case nil:
	case *string:
		*p = buf
	case *int:
		v, err := strconv.Atoi(buf)
		if err != nil {
			return "", sysfsError(path, "invalid entry '%s': %v", buf, err)
		}
		*p = v
	case *IDSet:
		set, err := ParseIDSet(buf)
		if err != nil {
			return "", sysfsError(path, "%v", err)
		}
		*p = set
	case *[]int:
		list := []int{}
		for _, field := range strings.Fields(buf) {
			v, err := strconv.Atoi(field)
			if err != nil {
				return "", sysfsError(path, "invalid entry '%s': %v", field, err)
			}
			list = append(list, v)
		}
		*p = list
	default:
		return "", sysfsError(path, "unsupported sysfs entry type %T", ptr)
	}

	return buf, nil
}

// sysfsError returns a formatted sysfs-specific error for the given path.
func sysfsError(path, format string, args ...interface{}) error {
	return errors.Errorf("sysfs %s: %s", path, fmt.Sprintf(format, args...))
}
