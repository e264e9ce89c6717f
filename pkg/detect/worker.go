package detect

import (
	"bufio"
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"image"
	"image/jpeg"
	"os/exec"
	"sync"
)

// WorkerEngine runs inference through an external model worker speaking
// line-delimited JSON over stdin/stdout. One request is in flight at a
// time; the worker loads the model once at startup and answers
// per-frame queries.
type WorkerEngine struct {
	mu      sync.Mutex
	cmd     *exec.Cmd
	stdin   *json.Encoder
	stdinC  func() error
	stdout  *bufio.Scanner
	started bool
}

type workerRequest struct {
	Image  string `json:"image"` // base64 JPEG
	Width  int    `json:"width"`
	Height int    `json:"height"`
}

type workerResponse struct {
	Detections []RawDetection `json:"detections"`
	Error      string         `json:"error,omitempty"`
}

// StartWorker launches the worker process. The command is expected to
// keep running until stdin closes.
func StartWorker(ctx context.Context, command string, args ...string) (*WorkerEngine, error) {
	cmd := exec.CommandContext(ctx, command, args...)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("detect: worker stdin: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("detect: worker stdout: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("detect: start worker %q: %w", command, err)
	}

	sc := bufio.NewScanner(stdout)
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	return &WorkerEngine{
		cmd:     cmd,
		stdin:   json.NewEncoder(stdin),
		stdinC:  stdin.Close,
		stdout:  sc,
		started: true,
	}, nil
}

func (w *WorkerEngine) Infer(ctx context.Context, img image.Image) ([]RawDetection, error) {
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: 85}); err != nil {
		return nil, fmt.Errorf("detect: encode frame for worker: %w", err)
	}
	b := img.Bounds()
	req := workerRequest{
		Image:  base64.StdEncoding.EncodeToString(buf.Bytes()),
		Width:  b.Dx(),
		Height: b.Dy(),
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := w.stdin.Encode(req); err != nil {
		return nil, fmt.Errorf("detect: send to worker: %w", err)
	}
	if !w.stdout.Scan() {
		if err := w.stdout.Err(); err != nil {
			return nil, fmt.Errorf("detect: read from worker: %w", err)
		}
		return nil, fmt.Errorf("detect: worker closed its output")
	}
	var resp workerResponse
	if err := json.Unmarshal(w.stdout.Bytes(), &resp); err != nil {
		return nil, fmt.Errorf("detect: decode worker response: %w", err)
	}
	if resp.Error != "" {
		return nil, fmt.Errorf("detect: worker error: %s", resp.Error)
	}
	return resp.Detections, nil
}

// Close shuts the worker down by closing stdin and waiting for exit.
func (w *WorkerEngine) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.started {
		return nil
	}
	w.started = false
	_ = w.stdinC()
	return w.cmd.Wait()
}
