package engine

import (
	"math"
	"time"

	"github.com/hailam/chessplay/internal/board"
)

// UCILimits contains UCI time control parameters, as received from the
// "go" command (spec §6).
type UCILimits struct {
	Time      [2]time.Duration
	Inc       [2]time.Duration
	MovesToGo int
	MoveTime  time.Duration
	Depth     int
	Nodes     uint64
	NodesTime uint64 // when non-zero, node count * rate replaces wall time
	MateIn    int
	Infinite  bool
	Ponder    bool
}

// TimeManager computes optimum/maximum deadlines (spec §4.5) and runs the
// decimated poll protocol the main worker uses to decide when to stop.
type TimeManager struct {
	optimumTime time.Duration
	maximumTime time.Duration
	startTime   time.Time

	callsCount int
	moveOverhead time.Duration
}

func NewTimeManager() *TimeManager { return &TimeManager{} }

// Init computes optimumTime/maximumTime from the formula in spec §4.5.
func (tm *TimeManager) Init(limits UCILimits, us board.Color, ply int, moveOverhead time.Duration) {
	tm.startTime = time.Now()
	tm.moveOverhead = moveOverhead
	tm.callsCount = 1

	if limits.MoveTime > 0 {
		tm.optimumTime = limits.MoveTime
		tm.maximumTime = limits.MoveTime
		return
	}
	if limits.Infinite || limits.Depth > 0 || limits.Nodes > 0 || limits.MateIn > 0 {
		tm.optimumTime = time.Hour
		tm.maximumTime = time.Hour
		return
	}
	if limits.Time[us] == 0 {
		tm.optimumTime = time.Hour
		tm.maximumTime = time.Hour
		return
	}

	clockTime := float64(limits.Time[us]) / float64(time.Millisecond)
	inc := float64(limits.Inc[us]) / float64(time.Millisecond)
	overhead := float64(moveOverhead) / float64(time.Millisecond)
	mtg := limits.MovesToGo
	if mtg <= 0 {
		mtg = 50
	}

	remainTime := clockTime + float64(mtg-1)*inc - float64(mtg+2)*overhead
	if remainTime < 1 {
		remainTime = 1
	}

	var optimumScale, maximumScale float64
	if limits.MovesToGo > 0 {
		optimumScale = math.Min((0.88+8.59e-3*float64(ply))/float64(mtg), 0.88*clockTime/remainTime)
		maximumScale = math.Min(1.3+0.11*float64(mtg), 8.45)
	} else {
		initialAdjust := math.Max(-0.4354+0.3128*math.Log10(remainTime), 1e-6)
		logClock := math.Log10(math.Max(clockTime, 1))
		optConst := 3.98e-3 + 3.09e-4*logClock
		maxConst := math.Min(3.39+3.01e-1*logClock, 6.677)
		optimumScale = initialAdjust * math.Min(12.14e-3+optConst*math.Pow(2.95+float64(ply), 0.46), 0.213*clockTime/remainTime)
		maximumScale = math.Min(maxConst+83.44e-3*float64(ply), 6.677)
	}

	optimumTimeMs := optimumScale * remainTime
	maxFromClock := 0.825*clockTime - overhead
	maxFromOptimum := maximumScale * optimumTimeMs
	maximumTimeMs := math.Max(math.Min(maxFromClock, maxFromOptimum), 1)

	if limits.Ponder {
		optimumTimeMs *= 1.25
	}

	tm.optimumTime = time.Duration(optimumTimeMs) * time.Millisecond
	tm.maximumTime = time.Duration(maximumTimeMs) * time.Millisecond

	if tm.optimumTime < 10*time.Millisecond {
		tm.optimumTime = 10 * time.Millisecond
	}
	if tm.maximumTime < tm.optimumTime {
		tm.maximumTime = tm.optimumTime
	}
}

func (tm *TimeManager) Elapsed() time.Duration { return time.Since(tm.startTime) }
func (tm *TimeManager) OptimumTime() time.Duration { return tm.optimumTime }
func (tm *TimeManager) MaximumTime() time.Duration { return tm.maximumTime }

// PollHitRate computes the decimated polling interval: callsCount is reset
// to min(1+ceil(nodes/1024), 512) per spec §4.5.
func PollHitRate(nodes uint64) int {
	r := 1 + int((nodes+1023)/1024)
	if r > 512 {
		return 512
	}
	return r
}

// ShouldPoll decrements callsCount and reports whether it is time to take a
// real wall-clock reading, implementing the "decimated rate" poll protocol.
func (tm *TimeManager) ShouldPoll(nodes uint64) bool {
	tm.callsCount--
	if tm.callsCount > 0 {
		return false
	}
	tm.callsCount = PollHitRate(nodes)
	return true
}

func (tm *TimeManager) ShouldStop() bool { return tm.Elapsed() >= tm.maximumTime }
func (tm *TimeManager) PastOptimum() bool { return tm.Elapsed() >= tm.optimumTime }

// AbandonmentFactor computes the bounded multiplier spec §4.5 calls
// evalChange * reduction * instability * nodeReduction * reCapture,
// folded into one function since each sub-factor is a bounded scalar
// multiplying the same optimum baseline.
func AbandonmentFactor(evalChange, instability float64, bestMoveNodesFraction float64, isRecapture bool) float64 {
	evalFactor := clampFloat(1.0+evalChange, 0.5, 1.5)
	instabilityFactor := clampFloat(1.0+instability, 0.75, 2.0)
	nodeFactor := clampFloat(1.5-0.8*bestMoveNodesFraction, 0.5, 1.5)
	reCaptureFactor := 1.0
	if isRecapture {
		reCaptureFactor = 0.95
	}
	return evalFactor * instabilityFactor * nodeFactor * reCaptureFactor
}

func clampFloat(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// ShouldAbandon implements the end-of-iteration abandonment heuristic of
// spec §4.5: totalTime = optimum * factor; abandon when elapsed exceeds it.
func (tm *TimeManager) ShouldAbandon(factor float64) bool {
	total := time.Duration(float64(tm.optimumTime) * factor)
	return tm.Elapsed() > total
}
