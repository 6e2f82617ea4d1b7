package cmd

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"text/template"

	"github.com/GiGurra/boa/pkg/boa"
	"github.com/Masterminds/sprig"
	"github.com/jedib0t/go-pretty/v6/table"
	jmon "github.com/jmonlabs/jmon-daw-sub001"
	"github.com/jmonlabs/jmon-daw-sub001/clock"
	"github.com/jmonlabs/jmon-daw-sub001/transport"
	"github.com/samber/lo"
	"github.com/spf13/cobra"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

type EventsParams struct {
	File       string  `pos:"true" help:"Song file, JSON or YAML."`
	Tempo      float64 `optional:"true" help:"Tempo in BPM overriding the tempo of the song; 0 keeps it." default:"0"`
	Kind       string  `optional:"true" help:"Events to list." default:"all" alts:"all,note,param"`
	Resolution float64 `optional:"true" help:"Sampling step of automation, in seconds." default:"0.05"`
	Template   string  `optional:"true" help:"Go text/template executed for every event instead of printing a table. Sprig functions are available." default:""`
}

// EventView is what --template templates are executed with.
type EventView struct {
	Time     float64
	Position string
	Track    string
	Kind     string
	Note     string
	Keys     []int
	Velocity float64
	Duration float64
	Looped   bool
	Param    string
	Target   string
	Value    float64
}

func EventsCmd() *cobra.Command {
	return boa.CmdT[EventsParams]{
		Use:         "events",
		Short:       "List the scheduled events of a song",
		ParamEnrich: defaultParamEnricher(),
		RunFunc: func(params *EventsParams, cmd *cobra.Command, args []string) {
			if err := runEvents(params, os.Stdout); err != nil {
				fmt.Fprintf(os.Stderr, "events: %v\n", err)
				os.Exit(1)
			}
		},
	}.ToCobra()
}

func runEvents(params *EventsParams, stdout io.Writer) error {
	song, err := readSongFile(params.File)
	if err != nil {
		return err
	}
	if params.Tempo > 0 {
		song.Tempo = params.Tempo
	}
	tr := transport.New(clock.NewManual(),
		transport.WithLogger(slog.New(slog.DiscardHandler)),
		transport.WithResolution(params.Resolution),
	)
	defer tr.Close()
	if _, err := tr.Load(song); err != nil {
		return err
	}
	events := lo.Filter(tr.Schedule(), func(e transport.Event, _ int) bool {
		return params.Kind == "" || params.Kind == "all" || params.Kind == e.Kind.String()
	})
	views := lo.Map(events, func(e transport.Event, _ int) EventView {
		return newEventView(&song, tr.Tempo(), e)
	})
	if params.Template != "" {
		tmpl, err := template.New("events").Funcs(sprig.TxtFuncMap()).Parse(params.Template)
		if err != nil {
			return fmt.Errorf("could not parse template: %w", err)
		}
		for _, v := range views {
			if err := tmpl.Execute(stdout, v); err != nil {
				return fmt.Errorf("could not execute template: %w", err)
			}
		}
		return nil
	}
	title := cases.Title(language.English)
	t := table.NewWriter()
	t.SetOutputMirror(stdout)
	t.SetStyle(table.StyleLight)
	t.AppendHeader(table.Row{"Time", "Position", "Track", "Kind", "Event"})
	for _, v := range views {
		detail := fmt.Sprintf("%s = %g", v.Param, v.Value)
		if v.Kind == transport.NoteEvent.String() {
			detail = fmt.Sprintf("%s vel %.2f dur %.3fs", v.Note, v.Velocity, v.Duration)
			if v.Looped {
				detail += " (loop)"
			}
		}
		t.AppendRow(table.Row{fmt.Sprintf("%.3f", v.Time), v.Position, v.Track, title.String(v.Kind), detail})
	}
	t.AppendFooter(table.Row{fmt.Sprintf("%.3f", tr.Duration()), "", "", "", fmt.Sprintf("%d events", len(views))})
	t.Render()
	return nil
}

func newEventView(song *jmon.Song, bpm float64, e transport.Event) EventView {
	v := EventView{
		Time:     e.Time,
		Position: jmon.MusicalTimeFromSeconds(e.Time, bpm).String(),
		Track:    song.Sequences[e.Track].ID(e.Track),
		Kind:     e.Kind.String(),
	}
	if e.Kind == transport.NoteEvent {
		v.Note = e.Note.Pitch.String()
		v.Keys = e.Note.Pitch.Keys()
		v.Velocity = e.Note.Velocity
		v.Duration = e.Note.Duration
		v.Looped = e.Note.Looped
		return v
	}
	v.Param, v.Value, v.Target = e.Param, e.Value, e.Target.Node
	return v
}
