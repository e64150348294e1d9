// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package dsmser

import (
	"time"

	"go.uber.org/zap"
)

// Write queues p for transmission to the port's device and returns the
// number of bytes accepted. Bytes that do not fit the transmit queue are
// counted in XmitBytesLost.
func (p *Port) Write(b []byte) (int, error) {
	if p.dev == nil {
		return 0, ErrNoDevice
	}
	return p.queueXmit(b)
}

func (p *Port) queueXmit(b []byte) (int, error) {
	p.xmitMu.Lock()
	if p.closed.Load() {
		p.xmitMu.Unlock()
		return 0, ErrClosed
	}
	n := p.xmit.Write(b)
	p.xmitMu.Unlock()

	add(&p.stats.xmitBytesLost, uint64(len(b)-n))
	if n > 0 {
		select {
		case p.xmitKick <- struct{}{}:
		default:
		}
	}
	return n, nil
}

// transmitter drains the transmit queue to the device.
func (p *Port) transmitter() {
	defer p.wg.Done()

	var buf [256]byte
	for {
		select {
		case <-p.done:
			return
		case <-p.xmitKick:
		}
		for {
			n := p.xmit.Read(buf[:])
			if n == 0 {
				break
			}
			if _, err := p.dev.Write(buf[:n]); err != nil {
				p.log.Warn("transmit failed", zap.Error(err))
				add(&p.stats.xmitBytesLost, uint64(n))
			}
		}
	}
}

// SetPrompt installs the prompt sent by the prompter. A running prompter
// restarts with the new prompt.
func (p *Port) SetPrompt(pr Prompt) error {
	if err := pr.Validate(); err != nil {
		return err
	}
	p.promptMu.Lock()
	defer p.promptMu.Unlock()

	p.prompt = Prompt{Text: append([]byte(nil), pr.Text...), Rate: pr.Rate}
	if p.promptStop != nil {
		p.stopPrompterLocked()
		return p.startPrompterLocked()
	}
	return nil
}

// Prompt returns the current prompt.
func (p *Port) Prompt() Prompt {
	p.promptMu.Lock()
	defer p.promptMu.Unlock()
	return Prompt{Text: append([]byte(nil), p.prompt.Text...), Rate: p.prompt.Rate}
}

// StartPrompter begins queueing the prompt for transmission at its rate.
// Starting a running prompter does nothing.
func (p *Port) StartPrompter() error {
	if p.dev == nil {
		return ErrNoDevice
	}
	p.promptMu.Lock()
	defer p.promptMu.Unlock()
	if p.promptStop != nil {
		return nil
	}
	return p.startPrompterLocked()
}

func (p *Port) startPrompterLocked() error {
	if p.closed.Load() {
		return ErrClosed
	}
	if err := p.prompt.Validate(); err != nil {
		return err
	}
	stop := make(chan struct{})
	p.promptStop = stop
	p.wg.Add(1)
	go p.prompter(p.prompt, stop)
	p.log.Debug("prompter started",
		zap.ByteString("prompt", p.prompt.Text), zap.Duration("rate", p.prompt.Rate))
	return nil
}

// StopPrompter stops the prompter if it is running.
func (p *Port) StopPrompter() {
	p.promptMu.Lock()
	defer p.promptMu.Unlock()
	p.stopPrompterLocked()
}

func (p *Port) stopPrompterLocked() {
	if p.promptStop == nil {
		return
	}
	close(p.promptStop)
	p.promptStop = nil
}

// Prompting reports whether the prompter is running.
func (p *Port) Prompting() bool {
	p.promptMu.Lock()
	defer p.promptMu.Unlock()
	return p.promptStop != nil
}

func (p *Port) prompter(pr Prompt, stop <-chan struct{}) {
	defer p.wg.Done()

	ticker := time.NewTicker(pr.Rate)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-p.done:
			return
		case <-ticker.C:
			if _, err := p.queueXmit(pr.Text); err != nil {
				return
			}
		}
	}
}
