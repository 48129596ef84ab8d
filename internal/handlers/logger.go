package handlers

import (
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2"
	fiberlogger "github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/mattn/go-isatty"
)

const (
	cRed    = "\u001b[91m"
	cGreen  = "\u001b[92m"
	cYellow = "\u001b[93m"
	cBlue   = "\u001b[94m"
	cCyan   = "\u001b[96m"
	cReset  = "\u001b[0m"
)

const accessLogFormat = "${time} | ${status} | ${latency} | ${ip} | ${method} | ${path} | ${error}\n"

func statusColor(status int) string {
	switch {
	case status >= 200 && status < 300:
		return cGreen
	case status >= 300 && status < 400:
		return cBlue
	case status >= 400 && status < 500:
		return cYellow
	default:
		return cRed
	}
}

func methodColor(method string) string {
	switch method {
	case fiber.MethodGet:
		return cCyan
	case fiber.MethodPost:
		return cGreen
	case fiber.MethodDelete:
		return cRed
	default:
		return cReset
	}
}

// AccessLogConfig configures AccessLogger.
type AccessLogConfig struct {
	// Output defaults to stdout.
	Output io.Writer
	// Sampled maps a path to N: only every Nth request to it is logged.
	// Health probes hit the relay constantly and would drown the stream logs.
	Sampled map[string]uint64
}

func colorsEnabled(out io.Writer) bool {
	f, ok := out.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) && os.Getenv("NO_COLOR") == "" && os.Getenv("TERM") != "dumb"
}

// AccessLogger logs every request with the fiber logger middleware, except for
// sampled paths which are logged once per N calls.
func AccessLogger(cfg AccessLogConfig) fiber.Handler {
	out := cfg.Output
	if out == nil {
		out = os.Stdout
	}
	colors := colorsEnabled(out)

	full := fiberlogger.New(fiberlogger.Config{
		Format:        accessLogFormat,
		Output:        out,
		DisableColors: !colors,
	})

	var mu sync.Mutex
	counts := make(map[string]uint64, len(cfg.Sampled))

	return func(c *fiber.Ctx) error {
		every, sampled := cfg.Sampled[c.Path()]
		if !sampled || every <= 1 {
			return full(c)
		}

		mu.Lock()
		counts[c.Path()]++
		n := counts[c.Path()]
		if n >= every {
			counts[c.Path()] = 0
		}
		mu.Unlock()

		if n < every {
			return c.Next()
		}

		start := time.Now()
		err := c.Next()
		status := c.Response().StatusCode()
		method := c.Method()

		sc, mc, reset := "", "", ""
		if colors {
			sc, mc, reset = statusColor(status), methodColor(method), cReset
		}
		fmt.Fprintf(out, "%s | %s%d%s | %13s | %s | %s%s%s | %s | - [sampled: %d calls]\n",
			time.Now().Format("15:04:05"),
			sc, status, reset,
			time.Since(start),
			c.IP(),
			mc, method, reset,
			c.Path(),
			n)
		return err
	}
}
