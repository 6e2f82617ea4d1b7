package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"time"

	"github.com/GiGurra/boa/pkg/boa"
	"github.com/fsnotify/fsnotify"
	jmon "github.com/jmonlabs/jmon-daw-sub001"
	"github.com/jmonlabs/jmon-daw-sub001/clock"
	"github.com/jmonlabs/jmon-daw-sub001/graph"
	"github.com/jmonlabs/jmon-daw-sub001/oto"
	"github.com/jmonlabs/jmon-daw-sub001/transport"
	"github.com/spf13/cobra"
)

type PlayParams struct {
	File      string  `pos:"true" help:"Song file, JSON or YAML."`
	Tempo     float64 `optional:"true" help:"Tempo in BPM overriding the tempo of the song; 0 keeps it." default:"0"`
	LoopStart float64 `optional:"true" help:"Start of the loop region, in seconds." default:"0"`
	LoopEnd   float64 `optional:"true" help:"End of the loop region, in seconds; the loop is enabled when it is after loop-start." default:"0"`
	Watch     bool    `short:"w" optional:"true" help:"Reload the song whenever the file changes." default:"false"`
	Midi      bool    `optional:"true" help:"Send the notes of midi instruments to a MIDI output." default:"false"`
	MidiPort  string  `optional:"true" help:"Name prefix of the MIDI output; empty takes the first output." default:""`
	Fps       int     `optional:"true" help:"Position updates per second." default:"30"`
	Verbose   bool    `short:"v" optional:"true" help:"Log transport transitions." default:"false"`
}

func PlayCmd() *cobra.Command {
	return boa.CmdT[PlayParams]{
		Use:         "play",
		Short:       "Play a song on the sound card",
		ParamEnrich: defaultParamEnricher(),
		RunFunc: func(params *PlayParams, cmd *cobra.Command, args []string) {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
			defer stop()
			if err := runPlay(ctx, params, os.Stdout, os.Stderr); err != nil {
				fmt.Fprintf(os.Stderr, "play: %v\n", err)
				os.Exit(1)
			}
		},
	}.ToCobra()
}

func runPlay(ctx context.Context, params *PlayParams, stdout, stderr io.Writer) error {
	log := newLogger(stderr, params.Verbose)
	song, err := readSongFile(params.File)
	if err != nil {
		return err
	}
	registry := graph.DefaultRegistry()
	if params.Midi {
		out, closeMIDI, err := NewMIDIOut(params.MidiPort)
		if err != nil {
			return fmt.Errorf("could not open MIDI output: %w", err)
		}
		defer closeMIDI()
		registry.Register("midi", graph.MIDIConstructor(out))
	}
	clk := clock.NewSample(oto.DefaultSampleRate)
	tr := transport.New(clk, transport.WithRegistry(registry), transport.WithLogger(log))
	defer tr.Close()
	start := func(song jmon.Song) error {
		if params.Tempo > 0 {
			song.Tempo = params.Tempo
		}
		if _, err := tr.Load(song); err != nil {
			return err
		}
		if params.LoopStart >= 0 && params.LoopEnd > params.LoopStart {
			if err := tr.SetLoopPoints(params.LoopStart, params.LoopEnd); err != nil {
				return err
			}
			if enabled, _, _ := tr.Loop(); !enabled {
				tr.ToggleLoop()
			}
		}
		return tr.Play()
	}
	audio, err := oto.NewContext(oto.DefaultSampleRate)
	if err != nil {
		return err
	}
	out := audio.Play(tr, clk)
	defer out.Close()
	if err := start(song); err != nil {
		return err
	}
	var fileEvents <-chan fsnotify.Event
	var fileErrors <-chan error
	path := filepath.Clean(params.File)
	if params.Watch {
		watcher, err := fsnotify.NewWatcher()
		if err != nil {
			return fmt.Errorf("failed to initialize watcher: %w", err)
		}
		defer watcher.Close()
		// editors often replace the file, so watch its directory
		if err := watcher.Add(filepath.Dir(path)); err != nil {
			return fmt.Errorf("error watching %s: %w", path, err)
		}
		fileEvents, fileErrors = watcher.Events, watcher.Errors
	}
	fps := max(params.Fps, 1)
	ticker := time.NewTicker(time.Second / time.Duration(fps))
	defer ticker.Stop()
	b := tr.Broker()
	for {
		select {
		case <-ctx.Done():
			fmt.Fprintln(stdout)
			return nil
		case <-ticker.C:
			tr.Tick()
		case u := <-b.Positions:
			fmt.Fprintf(stdout, "\r%-12v %8.3fs", u.Musical, u.Seconds)
		case w := <-b.Warnings:
			fmt.Fprintf(stdout, "\rwarning (%s): %s\n", warningKind(w), w)
		case s := <-b.Status:
			if s.Event == transport.Ended && !params.Watch {
				fmt.Fprintln(stdout)
				return nil
			}
		case event, ok := <-fileEvents:
			if !ok {
				fileEvents = nil
				continue
			}
			if filepath.Clean(event.Name) != path || event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			song, err := readSongFile(params.File)
			if err != nil {
				log.Warn("reload failed", "file", params.File, "error", err)
				continue
			}
			if err := start(song); err != nil {
				log.Warn("reload rejected", "file", params.File, "error", err)
				continue
			}
			fmt.Fprintf(stdout, "\rreloaded %s\n", params.File)
		case err, ok := <-fileErrors:
			if !ok {
				fileErrors = nil
				continue
			}
			log.Warn("watch error", "error", err)
		}
	}
}
