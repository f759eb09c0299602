package main

import (
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
)

func TestAwaitStop__Confirmed(t *testing.T) {
	confirm := make(chan struct{})
	failed := make(chan error, 1)
	go func() {
		confirm <- struct{}{}
		failed <- nil
	}()

	assert.NoError(t, awaitStop(confirm, failed))
}

func TestAwaitStop__Start_Failed_After_Cancel(t *testing.T) {
	confirm := make(chan struct{})
	failed := make(chan error, 1)
	failed <- errors.New("context canceled")

	done := make(chan error, 1)
	go func() {
		done <- awaitStop(confirm, failed)
	}()

	select {
	case err := <-done:
		assert.EqualError(t, err, "context canceled")
	case <-time.After(time.Second):
		t.Fatal("awaitStop blocked although the start failed")
	}
}
