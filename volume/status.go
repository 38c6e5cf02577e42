package volume

// LoadStatus is a snapshot of a volume's load state machine:
// NotLoaded -> Loading -> {Loaded | NotLoaded (cancelled)}.
type LoadStatus struct {
	Loaded  bool
	Loading bool
	// CachedFrames has one flag per frame; a flag becomes true only after
	// that frame's samples were written for the current cycle.
	CachedFrames    []bool
	FramesLoaded    int
	FramesProcessed int
	// Callbacks is the number of subscribers waiting for settlement.
	Callbacks int
}

// Progress is delivered to load callbacks: throttled while frames settle,
// and exactly once with Loaded set when the cycle settles.
type Progress struct {
	// Success is false if the settling frame failed or, on the final
	// payload, if any frame of the cycle failed.
	Success         bool
	FrameIndex      int
	FrameID         string
	FramesLoaded    int
	FramesProcessed int
	NumFrames       int
	Loaded          bool
	Err             error

	cycle uint64
}

// Callback receives load progress.
type Callback func(Progress)

func newStatus(frames int) LoadStatus {
	return LoadStatus{CachedFrames: make([]bool, frames)}
}

func (s LoadStatus) clone() LoadStatus {
	s.CachedFrames = append([]bool(nil), s.CachedFrames...)
	return s
}
