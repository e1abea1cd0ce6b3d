// Copyright (c) 2015-2021, NVIDIA CORPORATION.
// SPDX-License-Identifier: Apache-2.0

// Package lifecycle sequences Up/Down across every package that registers
// an interest in it, serializing control-plane operations into a single
// broadcast.
//
// A package interested in lifecycle notification calls Register from its
// init() func; lifecycle.Up then calls every registered Callbacks.Up in
// registration order, and lifecycle.Down calls every registered
// Callbacks.Down in the reverse order. This is how StartTracing/StopTracing
// reach every per-thread shardtracer in one pass.
package lifecycle

import (
	"container/list"

	"github.com/NVIDIA/shardtrace/conf"
)

// Callbacks is implemented by each package wishing to be brought up and
// down alongside the tracer.
type Callbacks interface {
	Up(confMap conf.ConfMap) (err error)
	Down(confMap conf.ConfMap) (err error)
}

type registrationItem struct {
	packageName string
	callbacks   Callbacks
}

var registrationList = list.New()

// Register records callbacks as the named package's interest in lifecycle
// notifications. Call from init().
func Register(packageName string, callbacks Callbacks) {
	registrationList.PushBack(&registrationItem{packageName: packageName, callbacks: callbacks})
}

// Up calls Callbacks.Up on every registered package, front to back
// (registration order), stopping at the first error.
func Up(confMap conf.ConfMap) (err error) {
	for e := registrationList.Front(); e != nil; e = e.Next() {
		item := e.Value.(*registrationItem)
		if err = item.callbacks.Up(confMap); err != nil {
			return err
		}
	}
	return nil
}

// Down calls Callbacks.Down on every registered package, back to front
// (reverse registration order), continuing past errors but returning the
// first one encountered.
func Down(confMap conf.ConfMap) (err error) {
	for e := registrationList.Back(); e != nil; e = e.Prev() {
		item := e.Value.(*registrationItem)
		if downErr := item.callbacks.Down(confMap); downErr != nil && err == nil {
			err = downErr
		}
	}
	return err
}
