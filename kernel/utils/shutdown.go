package utils

// Shutdown collects the cleanup the front-end owes on exit (flush and
// detach the region, remove the pidfile) and runs it latest-registered
// first. Steps run one after another on the caller's goroutine: the region
// flush is an msync the process must not exit before.
type Shutdown struct {
	steps []shutdownStep
	log   *Logger
}

type shutdownStep struct {
	name string
	fn   func() error
}

func NewShutdown(log *Logger) *Shutdown {
	if log == nil {
		log = DefaultLogger("shutdown")
	}
	return &Shutdown{log: log}
}

// Register queues a named cleanup step.
func (s *Shutdown) Register(name string, fn func() error) {
	s.steps = append(s.steps, shutdownStep{name: name, fn: fn})
}

// Run executes every step, latest first. A failing step is logged and does
// not stop the rest; the first failure is returned.
func (s *Shutdown) Run() error {
	var firstErr error
	for i := len(s.steps) - 1; i >= 0; i-- {
		step := s.steps[i]
		if err := step.fn(); err != nil {
			s.log.Error("shutdown step failed", String("step", step.name), Err(err))
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		s.log.Debug("shutdown step done", String("step", step.name))
	}
	return firstErr
}
