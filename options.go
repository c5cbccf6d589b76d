package flashwriter

// Logger is an optional logging interface, compatible with most structured
// loggers.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

type nopLogger struct{}

func (nopLogger) Debug(string, ...any) {}
func (nopLogger) Info(string, ...any)  {}
func (nopLogger) Error(string, ...any) {}

// Progress reports how far an erase or program pass has come.
type Progress struct {
	// Phase is "erasing" or "programming".
	Phase string
	// Addr is the page or chunk address just completed.
	Addr uint32
	// Done and Total count bytes erased or programmed in this call.
	Done  int
	Total int
}

// ProgressFunc is called after every erased page and programmed chunk. It
// runs between hardware operations and should return quickly.
type ProgressFunc func(Progress)

type config struct {
	maxPolls int
	log      Logger
	progress ProgressFunc
}

func defaultConfig() config {
	return config{
		maxPolls: DefaultMaxPolls,
		log:      nopLogger{},
	}
}

// Option configures a Writer.
type Option func(*config)

// WithMaxPolls bounds every BSY wait to n status register reads.
func WithMaxPolls(n int) Option {
	return func(c *config) {
		if n > 0 {
			c.maxPolls = n
		}
	}
}

// WithLogger sets the logger for unlock, erase and program events.
func WithLogger(l Logger) Option {
	return func(c *config) {
		if l != nil {
			c.log = l
		}
	}
}

// WithProgress installs a progress callback.
func WithProgress(fn ProgressFunc) Option {
	return func(c *config) {
		c.progress = fn
	}
}
