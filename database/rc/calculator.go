// Copyright (c) 2025 Sonic Operations Ltd
//
// Use of this software is governed by the Business Source License included
// in the LICENSE file and at soniclabs.com/bsl11.
//
// Change Date: 2028-4-16
//
// On the date above, in accordance with the Business Source License, use of
// this software will be governed by the GNU Lesser General Public License v3.

package rc

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/log"

	"github.com/icon-project/icon-service-sub005/common/future"
)

//go:generate mockgen -source calculator.go -destination calculator_mocks.go -package rc

// Calculator is the interface of the external reward calculator process.
// Both operations block until the calculator acknowledged the request.
type Calculator interface {
	// NotifyCommit informs the calculator that the block is committed.
	NotifyCommit(height uint64, hash common.Hash) error
	// NotifyCalculate requests the calculation of the sealed generation at
	// the given path.
	NotifyCalculate(path string, height uint64) error
}

// Transport delivers requests to the calculator process. Implementations
// wrap the IPC channel and return once a reply was received.
type Transport interface {
	CommitBlock(height uint64, hash common.Hash) (bool, error)
	Calculate(path string, height uint64) (bool, error)
	Close() error
}

// ErrRejected is returned when the calculator replies with a failure.
var ErrRejected = errors.New("request rejected by reward calculator")

// ErrClientClosed is returned for requests issued after the client was closed.
var ErrClientClosed = errors.New("reward calculator client is closed")

// Client implements Calculator on top of a Transport. Requests are processed
// in order by a background worker; callers wait for the acknowledgement.
type Client struct {
	mu       sync.Mutex
	closed   bool
	requests chan<- request
	done     <-chan error
	log      log.Logger
}

type request struct {
	commit    *commitRequest
	calculate *calculateRequest
	reply     future.Promise[bool]
}

type commitRequest struct {
	height uint64
	hash   common.Hash
}

type calculateRequest struct {
	path   string
	height uint64
}

// NewClient starts a client delivering requests through the given transport.
func NewClient(transport Transport) *Client {
	requests := make(chan request, 16)
	done := make(chan error, 1)
	logger := log.New("module", "rc-client")

	go func() {
		for req := range requests {
			var ok bool
			var err error
			switch {
			case req.commit != nil:
				ok, err = transport.CommitBlock(req.commit.height, req.commit.hash)
			case req.calculate != nil:
				ok, err = transport.Calculate(req.calculate.path, req.calculate.height)
			default:
				err = fmt.Errorf("empty request")
			}
			if err != nil {
				req.reply.Fulfill(future.Err[bool](err))
			} else {
				req.reply.Fulfill(future.Ok(ok))
			}
		}
		done <- transport.Close()
	}()

	return &Client{
		requests: requests,
		done:     done,
		log:      logger,
	}
}

func (c *Client) send(req request) future.Future[bool] {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return future.Immediate(future.Err[bool](ErrClientClosed))
	}
	promise, result := future.Create[bool]()
	req.reply = promise
	c.requests <- req
	return result
}

// CommitBlockAsync sends a commit notification without waiting for the reply.
func (c *Client) CommitBlockAsync(height uint64, hash common.Hash) future.Future[bool] {
	return c.send(request{commit: &commitRequest{height: height, hash: hash}})
}

// CalculateAsync sends a calculation request without waiting for the reply.
func (c *Client) CalculateAsync(path string, height uint64) future.Future[bool] {
	return c.send(request{calculate: &calculateRequest{path: path, height: height}})
}

func (c *Client) NotifyCommit(height uint64, hash common.Hash) error {
	ok, err := c.CommitBlockAsync(height, hash).Await()
	if err != nil {
		return fmt.Errorf("commit block %d: %w", height, err)
	}
	if !ok {
		return fmt.Errorf("commit block %d: %w", height, ErrRejected)
	}
	c.log.Debug("Reward calculator acknowledged commit", "height", height, "hash", hash)
	return nil
}

func (c *Client) NotifyCalculate(path string, height uint64) error {
	ok, err := c.CalculateAsync(path, height).Await()
	if err != nil {
		return fmt.Errorf("calculate %s at %d: %w", path, height, err)
	}
	if !ok {
		return fmt.Errorf("calculate %s at %d: %w", path, height, ErrRejected)
	}
	c.log.Info("Reward calculator accepted calculation", "height", height, "path", path)
	return nil
}

// Close waits for pending requests, stops the background worker and closes
// the transport. Subsequent calls are no-ops.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	close(c.requests)
	c.mu.Unlock()

	if err := <-c.done; err != nil {
		c.log.Warn("Failed to close reward calculator transport", "err", err)
		return fmt.Errorf("failed to close reward calculator transport: %w", err)
	}
	return nil
}

// BlockProduceInfoPrefix is the key prefix of the block produce information
// recorded in the reward calculator store for each block.
var BlockProduceInfoPrefix = []byte("BP")

// BlockProduceInfoKey returns the block produce information key of a block.
func BlockProduceInfoKey(height uint64) []byte {
	return binary.BigEndian.AppendUint64(append([]byte{}, BlockProduceInfoPrefix...), height)
}

// LastTxIndexKey holds the index of the last transaction recorded in the
// reward calculator store.
var LastTxIndexKey = []byte("last_transaction_index")
