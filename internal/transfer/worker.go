package transfer

import "context"

// Request describes one descriptor file to hand off.
type Request struct {
	TorrentPath string
	DownloadDir string
	// ExtraArgs are forwarded verbatim to workers that run a process.
	ExtraArgs []string
}

// Worker registers a descriptor file with a download client.
type Worker interface {
	Name() string
	Add(ctx context.Context, req Request) error
}

// WorkerFunc adapts a function to the Worker interface.
type WorkerFunc struct {
	WorkerName string
	Fn         func(ctx context.Context, req Request) error
}

func (w WorkerFunc) Name() string {
	return w.WorkerName
}

func (w WorkerFunc) Add(ctx context.Context, req Request) error {
	return w.Fn(ctx, req)
}
