// Package model defines the wire and domain types shared by the fabric
// and the executor: commands, results, capability records, and the
// stream event envelope.
package model

import (
	"fmt"
	"regexp"
	"strings"
)

// clusterIDPattern is spec.md §3's cluster id grammar: 1-253 chars,
// [a-z0-9][a-z0-9-]*.
var clusterIDPattern = regexp.MustCompile(`^[a-z0-9][a-z0-9-]*$`)

// ValidateClusterID reports whether id matches the cluster id grammar.
func ValidateClusterID(id string) bool {
	return len(id) >= 1 && len(id) <= 253 && clusterIDPattern.MatchString(id)
}

// MaxArgs and MaxArgLen bound a Command's args per spec.md §6.
const (
	MaxArgs   = 64
	MaxArgLen = 256
)

// ForbiddenArgPrefixes are credential-altering kubectl flags no
// dispatched argument may begin with (spec.md §3, §4.4 step 2). Both
// the dispatcher (blocking publish) and the executor (defense in
// depth before exec.CommandContext) enforce this against the same
// list.
var ForbiddenArgPrefixes = []string{
	"--kubeconfig",
	"--server",
	"--token",
	"--as-group",
	"--as",
	"--certificate-authority",
}

// ValidateArgs checks args against spec.md §3/§6's bounds and
// credential-flag restrictions. It does not check args[0] against any
// verb allow-list; that is policy-dependent (capability record at the
// dispatcher, local allow-list at the executor) and checked separately.
func ValidateArgs(args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("args must not be empty")
	}
	if len(args) > MaxArgs {
		return fmt.Errorf("args exceeds maximum of %d entries", MaxArgs)
	}
	for _, a := range args {
		if len(a) > MaxArgLen {
			return fmt.Errorf("argument exceeds maximum length of %d", MaxArgLen)
		}
		for _, forbidden := range ForbiddenArgPrefixes {
			if strings.HasPrefix(a, forbidden) {
				return fmt.Errorf("argument %q is not permitted", a)
			}
		}
	}
	return nil
}

// Command is a single-use kubectl invocation dispatched to one cluster's
// executor. It exists only until a Result arrives or Deadline passes.
type Command struct {
	ID            string   `json:"id"`
	ClusterID     string   `json:"-"`
	Args          []string `json:"args"`
	DeadlineUnixMs int64   `json:"deadline_unix_ms"`
	CorrelationID string   `json:"correlation_id,omitempty"`
}

// Status is the outcome of a dispatched command.
type Status string

const (
	StatusSuccess Status = "success"
	StatusFailure Status = "failure"
	StatusTimeout Status = "timeout"
)

// Result is the outcome of one Command. Ephemeral: retained only long
// enough for the waiting dispatcher to collect it.
type Result struct {
	CommandID       string `json:"command_id"`
	ClusterID       string `json:"cluster_id,omitempty"`
	Status          Status `json:"status"`
	Output          []byte `json:"output,omitempty"`
	Truncated       bool   `json:"truncated,omitempty"`
	Error           string `json:"error,omitempty"`
	ExecutionTimeMs int64  `json:"execution_time_ms,omitempty"`
	ExecutedAt      string `json:"executed_at,omitempty"`
}

// SecurityMode is the executor-reported operating mode for a cluster.
type SecurityMode string

const (
	SecurityReadOnly         SecurityMode = "readOnly"
	SecurityExtendedReadOnly SecurityMode = "extendedReadOnly"
	SecurityReadWrite        SecurityMode = "readWrite"
)

// CapabilityRecord is the per-cluster policy an executor advertises and
// the dispatcher consults before publishing (spec.md §4.6).
type CapabilityRecord struct {
	SecurityMode         SecurityMode      `json:"security_mode"`
	AllowedVerbs         []string          `json:"allowed_verbs"`
	ResourceRestrictions []string          `json:"resource_restrictions,omitempty"`
	Features             map[string]bool   `json:"features,omitempty"`
	Timestamp            string            `json:"timestamp"`
	ExecutorVersion      string            `json:"executor_version,omitempty"`
}

// MaxCapabilityEntries bounds list fields of a CapabilityRecord (spec.md §4.6).
const MaxCapabilityEntries = 200

// DefaultAllowedVerbs is the built-in minimum policy applied when no
// capability record exists for a cluster (spec.md §4.4).
var DefaultAllowedVerbs = []string{"get", "describe", "logs", "events", "top"}

// AllowsVerb reports whether verb is permitted by the record.
func (c *CapabilityRecord) AllowsVerb(verb string) bool {
	for _, v := range c.AllowedVerbs {
		if v == verb {
			return true
		}
	}
	return false
}

// Validate checks CapabilityRecord size bounds (spec.md §4.6).
func (c *CapabilityRecord) Validate() error {
	if len(c.AllowedVerbs) > MaxCapabilityEntries {
		return fmt.Errorf("allowed_verbs exceeds %d entries", MaxCapabilityEntries)
	}
	if len(c.ResourceRestrictions) > MaxCapabilityEntries {
		return fmt.Errorf("resource_restrictions exceeds %d entries", MaxCapabilityEntries)
	}
	if len(c.Features) > MaxCapabilityEntries {
		return fmt.Errorf("features exceeds %d entries", MaxCapabilityEntries)
	}
	return nil
}

// StreamEventKind discriminates the SSE envelope sent to an executor.
type StreamEventKind string

const (
	StreamConnected StreamEventKind = "connected"
	StreamCommand   StreamEventKind = "command"
	StreamKeepalive StreamEventKind = "keepalive"
	StreamError     StreamEventKind = "error"
)

// ConnectedPayload is the data of a StreamConnected event.
type ConnectedPayload struct {
	SessionID string `json:"session_id"`
}
