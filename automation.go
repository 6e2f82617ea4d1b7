package jmon

import (
	"cmp"
	"errors"
	"fmt"
	"math"
	"slices"
)

type (
	// Channel is an automation lane: keyframe points within a value range,
	// interpolated with a cubic Hermite spline. Point times are in beats, so a
	// curve follows the tempo. A Channel always has at least two points.
	Channel struct {
		ID     string      `json:"id" yaml:"id"`
		Range  [2]float64  `json:"range" yaml:"range,flow"`
		Points []Point     `json:"points" yaml:"points"`
		Target ParamTarget `json:"target,omitempty" yaml:"target,omitempty"`
	}

	// Point is one keyframe of a Channel. Time is in beats.
	Point struct {
		Time  float64 `json:"time" yaml:"time"`
		Value float64 `json:"value" yaml:"value"`
	}

	// ParamTarget names the parameter a Channel drives. An empty Node means
	// the instrument of the track; an empty Param means the ID of the channel.
	ParamTarget struct {
		Node  string `json:"node,omitempty" yaml:"node,omitempty"`
		Param string `json:"param,omitempty" yaml:"param,omitempty"`
	}

	// ParamEvent is one scheduled parameter write, at an absolute time in
	// seconds. Keyframe events land exactly on a drawn point.
	ParamEvent struct {
		Time     float64
		Value    float64
		Keyframe bool
	}
)

// DefaultResolution is the sampling step of automation events, in seconds.
const DefaultResolution = 0.05

// The default channel spans four bars.
const defaultChannelBeats = 4 * BeatsPerBar

// pixelPadding is the fraction of the lane height left empty at the top and
// the bottom of the lane.
const pixelPadding = 0.1

var (
	ErrTooFewPoints  = errors.New("automation channel needs at least 2 points")
	ErrInvalidRange  = errors.New("automation range minimum must be below maximum")
	ErrOutOfRange    = errors.New("automation value outside channel range")
	ErrPointNotFound = errors.New("automation point index out of bounds")
)

// NewChannel returns the default channel: a flat line at the middle of the
// range, from beat 0 to beat 16.
func NewChannel(id string, lo, hi float64) Channel {
	mid := math.Round((lo + hi) / 2)
	return Channel{
		ID:     id,
		Range:  [2]float64{lo, hi},
		Points: []Point{{Time: 0, Value: mid}, {Time: defaultChannelBeats, Value: mid}},
	}
}

func (c *Channel) Min() float64 { return c.Range[0] }
func (c *Channel) Max() float64 { return c.Range[1] }

// Param returns the name of the parameter the channel drives.
func (c *Channel) Param() string {
	if c.Target.Param != "" {
		return c.Target.Param
	}
	return c.ID
}

// Validate checks the structural invariants of the channel.
func (c *Channel) Validate() error {
	if !(c.Range[0] < c.Range[1]) {
		return fmt.Errorf("%w: [%v, %v]", ErrInvalidRange, c.Range[0], c.Range[1])
	}
	if len(c.Points) < 2 {
		return ErrTooFewPoints
	}
	for i, p := range c.Points {
		if math.IsNaN(p.Time) || math.IsInf(p.Time, 0) {
			return fmt.Errorf("point %d: invalid time %v", i, p.Time)
		}
		if p.Value < c.Range[0] || p.Value > c.Range[1] {
			return fmt.Errorf("point %d: %w: %v", i, ErrOutOfRange, p.Value)
		}
	}
	return nil
}

// Copy makes a deep copy of the channel.
func (c *Channel) Copy() Channel {
	ret := *c
	ret.Points = slices.Clone(c.Points)
	return ret
}

// AddPoint appends a keyframe. Points can be added in any order.
func (c *Channel) AddPoint(p Point) error {
	if p.Value < c.Range[0] || p.Value > c.Range[1] {
		return ErrOutOfRange
	}
	c.Points = append(c.Points, p)
	return nil
}

// RemovePoint removes the keyframe at index i. Removing a point from a channel
// with only two points is refused and leaves the channel unchanged.
func (c *Channel) RemovePoint(i int) error {
	if i < 0 || i >= len(c.Points) {
		return ErrPointNotFound
	}
	if len(c.Points) <= 2 {
		return ErrTooFewPoints
	}
	c.Points = slices.Delete(c.Points, i, i+1)
	return nil
}

// MovePoint replaces the keyframe at index i.
func (c *Channel) MovePoint(i int, p Point) error {
	if i < 0 || i >= len(c.Points) {
		return ErrPointNotFound
	}
	if p.Value < c.Range[0] || p.Value > c.Range[1] {
		return ErrOutOfRange
	}
	c.Points[i] = p
	return nil
}

// Sorted returns the points ordered by time. Points with equal times keep
// their stored order. The stored slice is not modified.
func (c *Channel) Sorted() []Point {
	ret := slices.Clone(c.Points)
	slices.SortStableFunc(ret, func(a, b Point) int { return cmp.Compare(a.Time, b.Time) })
	return ret
}

// Evaluate returns the value of the curve at the given time in beats.
func (c *Channel) Evaluate(beats float64) float64 {
	return c.clamp(evaluate(c.Sorted(), beats))
}

func (c *Channel) clamp(v float64) float64 {
	return min(max(v, c.Range[0]), c.Range[1])
}

func evaluate(points []Point, t float64) float64 {
	switch {
	case len(points) == 0:
		return 0
	case t <= points[0].Time:
		return points[0].Value
	case t >= points[len(points)-1].Time:
		return points[len(points)-1].Value
	}
	r, _ := slices.BinarySearchFunc(points, t, func(p Point, t float64) int {
		if p.Time <= t {
			return -1
		}
		return 1
	})
	l := r - 1
	left, right := points[l], points[r]
	dt := right.Time - left.Time
	if dt <= 0 {
		return right.Value
	}
	f := (t - left.Time) / dt
	if f >= 1 {
		return right.Value
	}
	ml, mr := tangent(points, l), tangent(points, r)
	f2 := f * f
	f3 := f2 * f
	h10 := f3 - 2*f2 + f
	h01 := -2*f3 + 3*f2
	h11 := f3 - f2
	return left.Value + (right.Value-left.Value)*h01 + dt*(h10*ml+h11*mr)
}

// tangent is the secant slope through the neighbours of point i, zero at the
// first and the last point.
func tangent(points []Point, i int) float64 {
	if i <= 0 || i >= len(points)-1 {
		return 0
	}
	dt := points[i+1].Time - points[i-1].Time
	if dt <= 0 {
		return 0
	}
	return (points[i+1].Value - points[i-1].Value) / dt
}

// Events samples the curve every resolution seconds over [start,
// start+duration], both in seconds, plus once at the very end of the range,
// and inserts every keyframe of the range exactly, replacing the samples
// within half a step of it. The result is sorted by time.
func (c *Channel) Events(bpm, start, duration, resolution float64) []ParamEvent {
	if resolution <= 0 {
		resolution = DefaultResolution
	}
	if duration < 0 {
		return nil
	}
	points := c.Sorted()
	spb := SecondsPerBeat(bpm)
	end := start + duration
	var keyframes []ParamEvent
	for _, p := range points {
		t := p.Time * spb
		if t < start-endEpsilon || t > end+endEpsilon {
			continue
		}
		keyframes = append(keyframes, ParamEvent{Time: t, Value: c.clamp(p.Value), Keyframe: true})
	}
	n := int(math.Floor(duration/resolution + endEpsilon))
	ret := make([]ParamEvent, 0, n+1+len(keyframes))
	for k := 0; k <= n; k++ {
		t := start + float64(k)*resolution
		if nearKeyframe(keyframes, t, resolution/2) {
			continue
		}
		ret = append(ret, ParamEvent{Time: t, Value: c.clamp(evaluate(points, t/spb))})
	}
	// the range rarely is a whole number of steps; always reach its end
	if last := start + float64(n)*resolution; end-last > endEpsilon && !nearKeyframe(keyframes, end, endEpsilon) {
		ret = append(ret, ParamEvent{Time: end, Value: c.clamp(evaluate(points, end/spb))})
	}
	ret = append(ret, keyframes...)
	slices.SortStableFunc(ret, func(a, b ParamEvent) int { return cmp.Compare(a.Time, b.Time) })
	return ret
}

func nearKeyframe(keyframes []ParamEvent, t, halfStep float64) bool {
	for _, k := range keyframes {
		if math.Abs(k.Time-t) < halfStep {
			return true
		}
	}
	return false
}

// ValueToPixel maps a value to a vertical position in a lane of the given
// height. The maximum of the range is at the top; a tenth of the height is
// left empty at both ends.
func (c *Channel) ValueToPixel(v, height float64) float64 {
	pad := height * pixelPadding
	span := c.Range[1] - c.Range[0]
	if span == 0 {
		return pad
	}
	return pad + (c.Range[1]-v)/span*(height-2*pad)
}

// PixelToValue is the inverse of ValueToPixel, clamped to the range.
func (c *Channel) PixelToValue(px, height float64) float64 {
	pad := height * pixelPadding
	usable := height - 2*pad
	if usable == 0 {
		return c.Range[1]
	}
	return c.clamp(c.Range[1] - (px-pad)/usable*(c.Range[1]-c.Range[0]))
}
