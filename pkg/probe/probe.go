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

// Package probe gives access to the per-process page table replication state.
//
// The state is a bitmask of the NUMA nodes page tables are replicated to. A
// zero mask means replication is disabled. Enabling with mask AllNodes
// replicates to every online node.
package probe

import (
	"fmt"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"

	logger "github.com/mitosis-project/repl-stress/pkg/log"
)

const (
	// AllNodes is the enable mask requesting replication on all online nodes.
	AllNodes uint64 = 1
	// Disabled is the state of a process without replication.
	Disabled uint64 = 0
)

// prctl option codes of the replication interface.
const (
	prSetPgtableRepl = 100
	prGetPgtableRepl = 101
)

var (
	// ErrBusy is returned when the kernel refuses to change the state (EBUSY).
	ErrBusy = errors.New("replication state busy")
	// ErrInvalidArgument is returned for masks the kernel rejects (EINVAL).
	ErrInvalidArgument = errors.New("invalid replication mask")
)

// Probe queries and toggles the replication state of the calling process.
type Probe interface {
	// Enable requests replication for the given node mask and returns the applied mask.
	Enable(mask uint64) (uint64, error)
	// Disable turns replication off.
	Disable() error
	// Query returns the current node mask, 0 if disabled.
	Query() (uint64, error)
}

// our logger instance
var log = logger.NewLogger("probe")

// Prctl is the Probe backed by the kernel prctl() interface.
type Prctl struct{}

// NewPrctl returns a Probe using prctl(PR_SET/GET_PGTABLE_REPL).
func NewPrctl() *Prctl {
	return &Prctl{}
}

// Enable requests replication for mask. Re-enabling with the applied mask is a no-op.
func (*Prctl) Enable(mask uint64) (uint64, error) {
	if mask == Disabled {
		return 0, errors.Wrap(ErrInvalidArgument, "enable with empty mask")
	}
	if err := unix.Prctl(prSetPgtableRepl, uintptr(mask), 0, 0, 0); err != nil {
		return 0, mapErrno("enable", mask, err)
	}

	applied, err := (&Prctl{}).Query()
	if err != nil {
		return 0, err
	}
	log.Debug("enabled replication with mask %#x, applied %#x", mask, applied)

	return applied, nil
}

// Disable turns replication off.
func (*Prctl) Disable() error {
	if err := unix.Prctl(prSetPgtableRepl, 0, 0, 0, 0); err != nil {
		return mapErrno("disable", 0, err)
	}
	log.Debug("disabled replication")
	return nil
}

// Query returns the current replication mask.
func (*Prctl) Query() (uint64, error) {
	status, err := unix.PrctlRetInt(prGetPgtableRepl, 0, 0, 0, 0)
	if err != nil {
		return 0, mapErrno("query", 0, err)
	}
	return uint64(status), nil
}

// mapErrno translates prctl errno values to our errors.
func mapErrno(op string, mask uint64, err error) error {
	msg := fmt.Sprintf("prctl %s (mask %#x)", op, mask)
	switch {
	case errors.Is(err, unix.EBUSY):
		return errors.Wrap(ErrBusy, msg)
	case errors.Is(err, unix.EINVAL):
		return errors.Wrap(ErrInvalidArgument, msg)
	}
	return errors.Wrap(err, msg)
}

// IsBusy returns true if err is, or wraps, ErrBusy.
func IsBusy(err error) bool {
	return errors.Is(err, ErrBusy)
}

// IsInvalidArgument returns true if err is, or wraps, ErrInvalidArgument.
func IsInvalidArgument(err error) bool {
	return errors.Is(err, ErrInvalidArgument)
}
