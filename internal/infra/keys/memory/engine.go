// Package memory is an in-process provisioning engine for dry runs and
// tests. It keeps stack state the way a real engine would: re-applying a
// stack updates its key in place and export names are unique per account
// and region.
package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"keystack/internal/domain"

	"github.com/google/uuid"
)

type Key struct {
	KeyID       string
	Arn         string
	StackName   string
	Descriptor  domain.KeyDescriptor
	Fingerprint string
}

type Engine struct {
	mu      sync.Mutex
	newID   func() string
	keys    map[string]*Key // stack/logical id
	exports map[string]string
	// published maps a stack key to the export it currently publishes.
	published map[string]string
}

func New() *Engine {
	return &Engine{
		newID:     func() string { return uuid.NewString() },
		keys:      make(map[string]*Key),
		exports:   make(map[string]string),
		published: make(map[string]string),
	}
}

// WithIDs replaces the key id generator.
func (e *Engine) WithIDs(newID func() string) *Engine {
	e.newID = newID
	return e
}

func (e *Engine) Apply(ctx context.Context, sub domain.Submission) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", &domain.ApplyError{Code: domain.ApplyUnknown, Op: "apply", Err: err}
	}
	target := sub.Target
	if target.StackName == "" || sub.Descriptor.LogicalID == "" {
		return "", &domain.ApplyError{Code: domain.ApplyRejected, Op: "apply", Err: errors.New("stack name and logical id are required")}
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	exportKey := target.Account + "/" + target.Region + "/" + sub.Output.ExportName
	if owner, ok := e.exports[exportKey]; ok && owner != target.StackName {
		return "", &domain.ApplyError{
			Code: domain.ApplyNameConflict,
			Op:   "apply",
			Err:  fmt.Errorf("export %q is already exported by stack %q", sub.Output.ExportName, owner),
		}
	}

	stackKey := target.Account + "/" + target.Region + "/" + target.StackName + "/" + sub.Descriptor.LogicalID
	key, ok := e.keys[stackKey]
	if ok && key.Descriptor.KeySpec != sub.Descriptor.KeySpec {
		// key spec is immutable: replace the key
		ok = false
	}
	if !ok {
		id := e.newID()
		key = &Key{
			KeyID:     id,
			Arn:       arn(target, id),
			StackName: target.StackName,
		}
		e.keys[stackKey] = key
	}
	key.Descriptor = sub.Descriptor.Clone()
	key.Fingerprint = sub.Fingerprint
	if prev, ok := e.published[stackKey]; ok && prev != exportKey {
		delete(e.exports, prev)
	}
	e.exports[exportKey] = target.StackName
	e.published[stackKey] = exportKey
	return key.Arn, nil
}

// Key returns the key with the given ARN or key id.
func (e *Engine) Key(id string) (Key, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, k := range e.keys {
		if k.Arn == id || k.KeyID == id {
			out := *k
			out.Descriptor = k.Descriptor.Clone()
			return out, nil
		}
	}
	return Key{}, domain.ErrNotFound
}

func arn(target domain.Target, id string) string {
	partition := target.Partition
	if partition == "" {
		partition = "aws"
	}
	return "arn:" + partition + ":kms:" + target.Region + ":" + target.Account + ":key/" + id
}
