package audio

import (
	"context"
	"fmt"
	"math"
	"os/exec"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"
)

var (
	percentRe = regexp.MustCompile(`(\d+)\s*%`)
)

const maxSinkVolume = 150

type streamInfo struct {
	ID      int
	Volume  int
	AppName string
}

type fadeTarget struct {
	id   int
	from int
	to   int
}

// commandRunner runs an external command and returns its stdout.
type commandRunner func(ctx context.Context, name string, args ...string) ([]byte, error)

func execRunner(ctx context.Context, name string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, name, args...).Output()
}

// DuckConfig controls how other applications are faded while listening.
type DuckConfig struct {
	// SelfNames are application.name values that are never touched.
	SelfNames []string `yaml:"self_names"`
	// Factor scales the current volume of other streams, e.g. 0.2.
	Factor float64 `yaml:"factor"`
	// MinVolume is the floor in percent.
	MinVolume int `yaml:"min_volume"`
	// Fade is the length of the volume ramp.
	Fade time.Duration `yaml:"fade"`
}

// Ducker fades every PulseAudio sink input except our own down while the
// microphone is open and restores them afterwards. It talks to pactl.
type Ducker struct {
	mu          sync.Mutex
	active      bool
	cfg         DuckConfig
	originalVol map[int]int
	run         commandRunner
	sleep       func(ctx context.Context, d time.Duration) error
}

func NewDucker(cfg DuckConfig) *Ducker {
	cfg.MinVolume = min(max(cfg.MinVolume, 0), maxSinkVolume)
	if cfg.Factor < 0 {
		cfg.Factor = 0
	}

	return &Ducker{
		cfg:         cfg,
		originalVol: make(map[int]int),
		run:         execRunner,
		sleep:       sleepCtx,
	}
}

// Duck lowers the other streams to current*factor (not below MinVolume).
// Calling Duck while already ducked is a no-op.
func (d *Ducker) Duck(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.active {
		return nil
	}

	streams, err := d.listStreams(ctx)
	if err != nil {
		return fmt.Errorf("list streams: %w", err)
	}

	d.originalVol = make(map[int]int)

	var targets []fadeTarget
	for _, s := range streams {
		if d.isSelfStream(s) {
			continue
		}

		target := math.Max(float64(s.Volume)*d.cfg.Factor, float64(d.cfg.MinVolume))
		target = math.Min(target, maxSinkVolume)

		d.originalVol[s.ID] = s.Volume
		targets = append(targets, fadeTarget{
			id:   s.ID,
			from: s.Volume,
			to:   int(math.Round(target)),
		})
	}

	if len(targets) > 0 {
		if err := d.fade(ctx, targets); err != nil {
			return err
		}
	}

	d.active = true
	return nil
}

// Unduck restores the volumes saved by Duck. Streams that appeared after
// Duck are left alone.
func (d *Ducker) Unduck(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.active {
		return nil
	}

	streams, err := d.listStreams(ctx)
	if err != nil {
		return fmt.Errorf("list streams: %w", err)
	}

	var targets []fadeTarget
	for _, s := range streams {
		if d.isSelfStream(s) {
			continue
		}
		orig, ok := d.originalVol[s.ID]
		if !ok {
			continue
		}
		targets = append(targets, fadeTarget{id: s.ID, from: s.Volume, to: orig})
	}

	if len(targets) > 0 {
		if err := d.fade(ctx, targets); err != nil {
			return err
		}
	}

	d.originalVol = make(map[int]int)
	d.active = false
	return nil
}

func (d *Ducker) isSelfStream(s streamInfo) bool {
	for _, name := range d.cfg.SelfNames {
		if s.AppName == name {
			return true
		}
	}
	return false
}

// fade ramps every target in 10ms steps over cfg.Fade.
func (d *Ducker) fade(ctx context.Context, targets []fadeTarget) error {
	const minStep = 10 * time.Millisecond

	if d.cfg.Fade <= 0 {
		for _, t := range targets {
			if err := d.setVolume(ctx, t.id, t.to); err != nil {
				return fmt.Errorf("set volume id=%d: %w", t.id, err)
			}
		}
		return nil
	}

	steps := max(int(d.cfg.Fade/minStep), 1)
	step := d.cfg.Fade / time.Duration(steps)

	for i := 0; i <= steps; i++ {
		frac := float64(i) / float64(steps)
		for _, t := range targets {
			v := int(math.Round(float64(t.from) + float64(t.to-t.from)*frac))
			if err := d.setVolume(ctx, t.id, v); err != nil {
				return fmt.Errorf("set volume id=%d: %w", t.id, err)
			}
		}
		if i < steps {
			if err := d.sleep(ctx, step); err != nil {
				return err
			}
		}
	}
	return nil
}

func (d *Ducker) listStreams(ctx context.Context) ([]streamInfo, error) {
	out, err := d.run(ctx, "pactl", "list", "sink-inputs")
	if err != nil {
		return nil, fmt.Errorf("pactl list sink-inputs: %w", err)
	}
	return parseSinkInputs(string(out)), nil
}

func (d *Ducker) setVolume(ctx context.Context, id, percent int) error {
	percent = min(max(percent, 0), maxSinkVolume)
	_, err := d.run(ctx, "pactl", "set-sink-input-volume", strconv.Itoa(id), fmt.Sprintf("%d%%", percent))
	return err
}

// parseSinkInputs reads the output of `pactl list sink-inputs`.
func parseSinkInputs(text string) []streamInfo {
	parts := strings.Split(text, "Sink Input #")
	if len(parts) <= 1 {
		return nil
	}

	var res []streamInfo
	for _, block := range parts[1:] {
		newline := strings.IndexByte(block, '\n')
		if newline <= 0 {
			continue
		}

		id, err := strconv.Atoi(strings.TrimSpace(block[:newline]))
		if err != nil {
			continue
		}

		s := streamInfo{ID: id}
		for _, line := range strings.Split(block[newline+1:], "\n") {
			line = strings.TrimSpace(line)

			if strings.HasPrefix(line, "Volume:") && s.Volume == 0 {
				if m := percentRe.FindStringSubmatch(line); len(m) >= 2 {
					if v, err := strconv.Atoi(m[1]); err == nil {
						s.Volume = v
					}
				}
			}

			// application.name = "Firefox"
			if strings.HasPrefix(line, "application.name =") && s.AppName == "" {
				if _, rest, ok := strings.Cut(line, `"`); ok {
					if name, _, ok := strings.Cut(rest, `"`); ok {
						s.AppName = name
					}
				}
			}
		}

		if s.Volume == 0 && s.AppName == "" {
			continue
		}
		res = append(res, s)
	}
	return res
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
