// Command atu drives an antenna tuner over its telemetry link, or a
// simulated one, and inspects its solution memory.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/pflag"

	"github.com/itohio/goatu/pkg/config"
	"github.com/itohio/goatu/pkg/flash"
	"github.com/itohio/goatu/pkg/history"
	"github.com/itohio/goatu/pkg/link"
	"github.com/itohio/goatu/pkg/logging"
	"github.com/itohio/goatu/pkg/memory"
	"github.com/itohio/goatu/pkg/monitor"
	"github.com/itohio/goatu/pkg/rf"
	"github.com/itohio/goatu/pkg/telemetry"
)

const component = "atu"

var errUsage = errors.New("invalid usage")

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stdout); err != nil {
		if !errors.Is(err, pflag.ErrHelp) {
			fmt.Fprintf(os.Stderr, "atu: %v\n", err)
		}
		os.Exit(1)
	}
}

// app holds what every subcommand needs.
type app struct {
	cfg     *config.Config
	log     *logging.Logger
	out     io.Writer
	sim     bool
	timeout time.Duration
}

func run(ctx context.Context, args []string, out io.Writer) error {
	fs := pflag.NewFlagSet("atu", pflag.ContinueOnError)
	fs.SetOutput(out)

	var (
		configPath = fs.StringP("config", "c", "atu.yaml", "Configuration file path")
		port       = fs.StringP("port", "p", "", "Serial port override (e.g., COM3 or /dev/ttyACM0)")
		sim        = fs.Bool("sim", false, "Use the simulated tuner instead of the serial port")
		useMemory  = fs.BoolP("memory", "m", false, "tune: recall a stored solution instead of searching")
		auto       = fs.Bool("auto", false, "monitor: retune when the SWR stays above the threshold")
		limit      = fs.IntP("limit", "n", 20, "history: number of entries to list")
		timeout    = fs.Duration("timeout", 30*time.Second, "Command timeout")
		verbose    = fs.BoolP("verbose", "v", false, "Debug logging")
	)
	fs.Usage = func() {
		fmt.Fprintf(out, "Usage: atu [options] command [args]\n\n")
		fmt.Fprintf(out, "Commands:\n")
		fmt.Fprintf(out, "  tune [--memory]   run a full or memory tune\n")
		fmt.Fprintf(out, "  bypass            switch all relays off\n")
		fmt.Fprintf(out, "  antenna a|b       select the antenna port\n")
		fmt.Fprintf(out, "  recall <khz>      show the stored solution for a frequency\n")
		fmt.Fprintf(out, "  slot <khz>        show the memory slot of a frequency\n")
		fmt.Fprintf(out, "  monitor [--auto]  print telemetry until interrupted\n")
		fmt.Fprintf(out, "  history [-n N]    list recent tuning results\n")
		fmt.Fprintf(out, "  ports             list serial ports\n\n")
		fmt.Fprintf(out, "Options:\n")
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() == 0 {
		fs.Usage()
		return errUsage
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	if *port != "" {
		cfg.Serial.Port = *port
	}
	if *verbose {
		cfg.Logging.Level = "debug"
	}

	log, err := logging.NewLogger(cfg.Logging)
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer log.Close()

	a := &app{cfg: cfg, log: log, out: out, sim: *sim, timeout: *timeout}

	cmd, rest := fs.Arg(0), fs.Args()[1:]
	switch cmd {
	case "tune":
		kind, command := history.Full, telemetry.FullTune
		if *useMemory {
			kind, command = history.Memory, telemetry.MemoryTune
		}
		return a.tune(ctx, kind, command)
	case "bypass":
		return a.execute(ctx, telemetry.Bypass)
	case "antenna":
		if len(rest) != 1 {
			return fmt.Errorf("%w: antenna needs a port (a or b)", errUsage)
		}
		c, err := antennaCommand(rest[0])
		if err != nil {
			return err
		}
		return a.execute(ctx, c)
	case "recall":
		khz, err := frequencyArg(rest)
		if err != nil {
			return err
		}
		return a.recall(khz)
	case "slot":
		khz, err := frequencyArg(rest)
		if err != nil {
			return err
		}
		return a.slot(khz)
	case "monitor":
		return a.monitor(ctx, *auto)
	case "history":
		return a.history(*limit)
	case "ports":
		return a.ports()
	}

	fs.Usage()
	return fmt.Errorf("%w: unknown command %q", errUsage, cmd)
}

func frequencyArg(args []string) (uint16, error) {
	if len(args) != 1 {
		return 0, fmt.Errorf("%w: expected a frequency in KHz", errUsage)
	}
	khz, err := strconv.ParseUint(args[0], 10, 16)
	if err != nil {
		return 0, fmt.Errorf("invalid frequency %q: %w", args[0], err)
	}
	return uint16(khz), nil
}

func antennaCommand(arg string) (telemetry.Command, error) {
	switch strings.ToLower(arg) {
	case "a", "0", "1st":
		return telemetry.AntennaA, nil
	case "b", "1", "2nd":
		return telemetry.AntennaB, nil
	}
	return "", fmt.Errorf("%w: unknown antenna port %q", errUsage, arg)
}

// openFlash opens the flash image backing the simulated tuner and recall.
func (a *app) openFlash() (*flash.File, error) {
	f, err := flash.OpenFile(a.cfg.Memory.FlashFile, a.cfg.Memory.FlashSize)
	if err != nil {
		return nil, fmt.Errorf("failed to open flash image: %w", err)
	}
	return f, nil
}

// connect opens the link to the tuner. The caller closes the device.
func (a *app) connect() (link.Device, error) {
	var dev link.Device
	if a.sim {
		mem, err := a.openFlash()
		if err != nil {
			return nil, err
		}
		m, err := link.NewMock(a.cfg, mem, a.log)
		if err != nil {
			return nil, err
		}
		dev = m
	} else {
		dev = link.NewSerial(a.cfg.Serial.Port, a.cfg.Serial.BaudRate, 0, a.log)
	}

	if err := dev.Connect(); err != nil {
		return nil, err
	}
	return dev, nil
}

func (a *app) command(ctx context.Context, c telemetry.Command) (telemetry.Frame, error) {
	dev, err := a.connect()
	if err != nil {
		return telemetry.Frame{}, err
	}
	defer dev.Close()

	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	a.log.Debugf(component, "sending %s", c)
	f, err := link.Execute(ctx, dev, c)
	if err != nil {
		return telemetry.Frame{}, fmt.Errorf("command %s failed: %w", c, err)
	}
	return f, nil
}

func (a *app) execute(ctx context.Context, c telemetry.Command) error {
	f, err := a.command(ctx, c)
	if err != nil {
		return err
	}
	printFrame(a.out, f)
	return f.Errors.Err()
}

func (a *app) tune(ctx context.Context, kind history.Kind, c telemetry.Command) error {
	f, err := a.command(ctx, c)
	if err != nil {
		return err
	}
	printFrame(a.out, f)
	a.record(kind, f)
	return f.Errors.Err()
}

// record appends a tune result to the history database. Failures only log.
func (a *app) record(kind history.Kind, f telemetry.Frame) {
	h, err := history.Open(a.cfg.History.Path, a.cfg.History.MaxRecords)
	if err != nil {
		a.log.Warnf(component, "history unavailable: %v", err)
		return
	}
	defer h.Close()

	if _, err := h.Add(history.EntryOf(kind, f)); err != nil {
		a.log.Warnf(component, "failed to record result: %v", err)
	}
}

func (a *app) recall(khz uint16) error {
	mem, err := a.openFlash()
	if err != nil {
		return err
	}
	store, err := memory.NewStore(mem, a.cfg.Memory.TableOffset)
	if err != nil {
		return err
	}

	slot, ok := memory.FindSlot(khz)
	if !ok {
		return fmt.Errorf("%w: %d KHz", memory.ErrSlotRange, khz)
	}
	rec, found, err := store.Recall(slot)
	if err != nil {
		return err
	}
	if !found {
		fmt.Fprintf(a.out, "slot %d: empty\n", slot)
		return nil
	}
	fmt.Fprintf(a.out, "slot %d: %s\n", slot, rec.Relays)
	return nil
}

func (a *app) slot(khz uint16) error {
	slot, ok := memory.FindSlot(khz)
	if !ok {
		return fmt.Errorf("%w: %d KHz", memory.ErrSlotRange, khz)
	}
	g, _ := memory.GroupFor(khz)
	fmt.Fprintf(a.out, "slot %d of %d (group %d-%d KHz, %d slots)\n", slot, memory.TotalSlots, g.Start, g.End, g.Slots)
	return nil
}

func (a *app) monitor(ctx context.Context, auto bool) error {
	dev, err := a.connect()
	if err != nil {
		return err
	}

	readings := monitor.NewConverter(rf.NewPolynomial(a.cfg.Calibration), 0)(dev.Frames())
	smoothed := monitor.NewAveragingConverter(a.cfg.Monitor.AverageSamples, 0)(readings)

	w := monitor.NewWatcher(a.cfg.Monitor, a.cfg.Tuning.SWRThreshold)
	r := &retuner{dev: dev, log: a.log, record: a.record}
	w.OnUpdate(func(rs []monitor.Reading, _ []monitor.Episode) {
		last := rs[len(rs)-1]
		printReading(a.out, last)
		if auto {
			r.result(last)
		}
	})
	if auto {
		w.OnMismatch(r.mismatch)
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		w.Process(smoothed)
	}()

	select {
	case <-ctx.Done():
	case <-done:
		a.log.Warnf(component, "telemetry link closed")
	}
	dev.Close()
	<-done
	return nil
}

// retuner starts a memory tune on a mismatch episode and falls back to a
// full tune when memory has nothing good.
type retuner struct {
	dev     link.Device
	log     *logging.Logger
	record  func(history.Kind, telemetry.Frame)
	pending telemetry.Command
}

func (r *retuner) mismatch(e monitor.Episode) {
	if r.pending != "" {
		return
	}
	r.log.Infof(component, "SWR %.2f for %s at %d KHz, retuning", e.PeakSWR, e.Duration(), e.FrequencyKHz)
	r.send(telemetry.MemoryTune)
}

func (r *retuner) result(rd monitor.Reading) {
	if !rd.Result || r.pending == "" {
		return
	}
	f := telemetry.Frame{
		Timestamp:    rd.Timestamp,
		SWR:          float32(rd.SWR),
		FrequencyKHz: rd.FrequencyKHz,
		Relays:       rd.Relays,
		Errors:       rd.Errors,
		Result:       true,
		Comparisons:  rd.Comparisons,
	}

	switch r.pending {
	case telemetry.MemoryTune:
		r.record(history.Memory, f)
		r.pending = ""
		if !rd.Errors.OK() {
			r.send(telemetry.FullTune)
		}
	case telemetry.FullTune:
		r.record(history.Full, f)
		r.pending = ""
	}
}

func (r *retuner) send(c telemetry.Command) {
	if err := r.dev.Send(c); err != nil {
		r.log.Warnf(component, "failed to send %s: %v", c, err)
		return
	}
	r.pending = c
}

func (a *app) history(limit int) error {
	h, err := history.Open(a.cfg.History.Path, a.cfg.History.MaxRecords)
	if err != nil {
		return err
	}
	defer h.Close()

	entries, err := h.Recent(limit)
	if err != nil {
		return err
	}
	for _, e := range entries {
		fmt.Fprintf(a.out, "%s %-6s %5d KHz swr=%5.2f %s cmp=%d %s\n",
			e.Time.Format("2006-01-02 15:04:05"), e.Kind, e.FrequencyKHz, e.SWR, e.Relays, e.Comparisons, e.Errors)
	}

	st, err := h.Stats()
	if err != nil {
		return err
	}
	fmt.Fprintf(a.out, "total %d, failed %d, stored %d, average SWR %.2f\n", st.Total, st.Failed, st.Stored, st.AvgSWR)
	return nil
}

func (a *app) ports() error {
	ports, err := link.Ports()
	if err != nil {
		return err
	}
	for _, p := range ports {
		fmt.Fprintln(a.out, p.Name)
	}
	return nil
}

func printFrame(w io.Writer, f telemetry.Frame) {
	fmt.Fprintf(w, "%s swr=%.2f f=%d KHz %s cmp=%d %s\n",
		f.Timestamp.Format("15:04:05.000"), f.SWR, f.FrequencyKHz, f.Relays, f.Comparisons, f.Errors)
}

func printReading(w io.Writer, r monitor.Reading) {
	fmt.Fprintf(w, "%s fwd=%6.2fW ref=%6.2fW swr=%5.2f f=%d KHz %s\n",
		r.Timestamp.Format("15:04:05.000"), r.ForwardWatts, r.ReflectedWatts, r.SWR, r.FrequencyKHz, r.Relays)
}
