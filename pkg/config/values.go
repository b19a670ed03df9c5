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

package config

import (
	"sort"

	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"
)

// Set sets the variant from a string.
func (v *Variant) Set(value string) error {
	if err := Variant(value).validate(); err != nil {
		return err
	}
	*v = Variant(value)
	return nil
}

// Type returns the flag type name.
func (v *Variant) Type() string { return "variant" }

// String returns the variant as a string.
func (v *Variant) String() string { return string(*v) }

func (v Variant) validate() error {
	switch v {
	case Sequential, Concurrent:
		return nil
	}
	return errors.Errorf("invalid variant %q, expected %q or %q", v, Sequential, Concurrent)
}

// Set sets the threaded enable mode from a string.
func (t *ThreadedEnable) Set(value string) error {
	if err := ThreadedEnable(value).validate(); err != nil {
		return err
	}
	*t = ThreadedEnable(value)
	return nil
}

// Type returns the flag type name.
func (t *ThreadedEnable) Type() string { return "mode" }

// String returns the mode as a string.
func (t *ThreadedEnable) String() string { return string(*t) }

func (t ThreadedEnable) validate() error {
	switch t {
	case ThreadedAllow, ThreadedReject:
		return nil
	}
	return errors.Errorf("invalid threaded enable mode %q, expected %q or %q",
		t, ThreadedAllow, ThreadedReject)
}

// Set sets the probe kind from a string.
func (p *ProbeKind) Set(value string) error {
	if err := ProbeKind(value).validate(); err != nil {
		return err
	}
	*p = ProbeKind(value)
	return nil
}

// Type returns the flag type name.
func (p *ProbeKind) Type() string { return "probe" }

// String returns the probe kind as a string.
func (p *ProbeKind) String() string { return string(*p) }

func (p ProbeKind) validate() error {
	switch p {
	case ProbePrctl, ProbeFake:
		return nil
	}
	return errors.Errorf("invalid probe %q, expected %q or %q", p, ProbePrctl, ProbeFake)
}

func sortErrors(merr *multierror.Error) {
	sort.Slice(merr.Errors, func(i, j int) bool {
		return merr.Errors[i].Error() < merr.Errors[j].Error()
	})
}
