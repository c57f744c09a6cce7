//go:build js && wasm

// Command wasm is the browser side of the proof-of-work captcha. It exposes
// solveChallenge to the page, which submits the returned token with a claim.
package main

import (
	"encoding/json"
	"syscall/js"

	"forager/internal/pow"
)

const maxAttempts = 1 << 24

type challenge struct {
	ID string `json:"id"`
	pow.Puzzle
}

func main() {
	c := make(chan struct{})

	js.Global().Set("solveChallenge", js.FuncOf(solveChallenge))

	<-c
}

// solveChallenge takes the challenge JSON served by /api/v1/challenge, either
// bare or wrapped in {"challenge": ...}.
func solveChallenge(this js.Value, args []js.Value) interface{} {
	if len(args) < 1 {
		return failure("Challenge required")
	}

	ch, err := parseChallenge(args[0].String())
	if err != nil {
		return failure("Invalid challenge")
	}

	nonce, ok, err := ch.Solve(maxAttempts)
	if err != nil {
		return failure("Failed to compute proof of work")
	}
	if !ok {
		return failure("No solution found")
	}

	return map[string]interface{}{
		"success": true,
		"nonce":   nonce,
		"token":   ch.ID + ":" + nonce,
	}
}

func parseChallenge(raw string) (*challenge, error) {
	var wrapped struct {
		Challenge *challenge `json:"challenge"`
	}
	if err := json.Unmarshal([]byte(raw), &wrapped); err == nil && wrapped.Challenge != nil {
		return wrapped.Challenge, nil
	}
	var ch challenge
	if err := json.Unmarshal([]byte(raw), &ch); err != nil {
		return nil, err
	}
	return &ch, nil
}

func failure(msg string) map[string]interface{} {
	return map[string]interface{}{
		"success": false,
		"error":   msg,
	}
}
