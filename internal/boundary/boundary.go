// Package boundary names the external collaborators camstream assumes
// but does not implement: camera configuration loading, the trigger
// bus that parameterizes a sender run, a multi-process supervisor, and
// destination cleanup. Each is a type or interface only — wiring a
// real implementation behind them is somebody else's process.
package boundary

import "context"

// CameraConfig is one entry in the assumed camera-name-to-path map.
// Loading this from disk or a service is out of scope; camsender and
// camreceiver are handed an already-resolved CameraConfig via flags
// or a YAML file, never this type directly.
type CameraConfig struct {
	Name      string
	SourceDir string
	DestPath  string
}

// TriggerMessage is the payload carried by the external trigger bus:
// an instruction to start a sender at a given frame and tag the
// destination accordingly. See trigger.go for its strict decoder.
type TriggerMessage struct {
	FrameID        uint64 `json:"frame_id"`
	DestinationTag string `json:"destination_tag"`
}

// TriggerSource is the request/reply channel an orchestrator would
// poll to learn when and how to launch a sender. camstream never
// originates this transport, only consumes values handed to it.
type TriggerSource interface {
	Next(ctx context.Context) (TriggerMessage, error)
}

// Supervisor is the multi-process orchestration boundary: something
// that spawns N camsender and M camreceiver processes, assigning each
// camera a port and destination. camstream's engine is per-process
// and stateless across processes, which is what makes this interface
// sufficient as a seam rather than a shared-state API.
type Supervisor interface {
	SpawnSender(ctx context.Context, cam CameraConfig, startAfter uint64) error
	SpawnReceiver(ctx context.Context, listenAddr, outDir string) error
}

// DestinationCleaner removes previously transferred files from a
// destination, e.g. after an operator confirms a batch has been
// ingested downstream. camstream's receiver never deletes files it
// has committed; cleanup is always this external collaborator's call.
type DestinationCleaner interface {
	Clean(ctx context.Context, destPath string, olderThan uint64) error
}
