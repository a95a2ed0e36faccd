package uci

import (
	"bufio"
	"fmt"
	"math"
	"os"
	"runtime/pprof"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/hailam/chessplay/internal/board"
	"github.com/hailam/chessplay/internal/engine"
	"github.com/hailam/chessplay/internal/storage"
	"github.com/hailam/chessplay/internal/tablebase"
)

// UCI implements the Universal Chess Interface protocol.
type UCI struct {
	engine   *engine.Engine
	position *board.Position

	// Position history for repetition detection
	positionHashes []uint64

	// Opening book configuration
	ownBook  bool
	bookFile string

	// Syzygy tablebase configuration
	syzygyPath       string
	syzygyProbeDepth int
	syzygyProber     *tablebase.SyzygyProber

	// Analysis options
	multiPV  int
	showWDL  bool
	ponder   bool

	// Search state
	searching     bool
	pondering     atomic.Bool
	ponderHit     atomic.Bool
	searchDone    chan struct{}
	stopRequested atomic.Bool

	// CPU profiling
	profileFile *os.File

	// Persistent option storage (nil if unavailable)
	store    *storage.Storage
	settings *storage.EngineSettings
}

// New creates a new UCI protocol handler.
func New(eng *engine.Engine) *UCI {
	return &UCI{
		engine:   eng,
		position: board.NewPosition(),
		multiPV:  1,
	}
}

// SetStorage wires a persistent settings store; subsequent setoption
// commands are saved so they survive a restart.
func (u *UCI) SetStorage(store *storage.Storage, settings *storage.EngineSettings) {
	u.store = store
	u.settings = settings
	u.ownBook = settings.OwnBook
	u.bookFile = settings.BookFile
	u.syzygyPath = settings.SyzygyPath
	u.syzygyProbeDepth = settings.SyzygyProbeDepth
}

// saveSettings persists the current option values, if a store is wired.
func (u *UCI) saveSettings() {
	if u.store == nil || u.settings == nil {
		return
	}
	if err := u.store.SaveSettings(u.settings); err != nil {
		fmt.Fprintf(os.Stderr, "info string Failed to save settings: %v\n", err)
	}
}

// Run starts the UCI main loop.
func (u *UCI) Run() {
	scanner := bufio.NewScanner(os.Stdin)

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		parts := strings.Fields(line)
		cmd := parts[0]
		args := parts[1:]

		switch cmd {
		case "uci":
			u.handleUCI()
		case "isready":
			fmt.Println("readyok")
		case "ucinewgame":
			u.handleNewGame()
		case "position":
			if board.DebugMoveValidation {
				fmt.Fprintf(os.Stderr, "info string DEBUG: position %s\n", strings.Join(args, " "))
			}
			u.handlePosition(args)
		case "go":
			u.handleGo(args)
		case "stop":
			u.handleStop()
		case "ponderhit":
			u.handlePonderHit()
		case "quit":
			u.handleQuit()
		case "setoption":
			u.handleSetOption(args)
		// Debug commands
		case "d":
			fmt.Println(u.position.String())
		case "perft":
			u.handlePerft(args)
		}
	}
}

// handleUCI responds to the "uci" command.
func (u *UCI) handleUCI() {
	fmt.Println("id name ChessPlay")
	fmt.Println("id author ChessPlay Team")
	fmt.Println()
	fmt.Println("option name Hash type spin default 64 min 1 max 4096")
	fmt.Println("option name Threads type spin default 1 min 1 max 512")
	fmt.Println("option name Clear Hash type button")
	fmt.Println("option name MultiPV type spin default 1 min 1 max 256")
	fmt.Println("option name Ponder type check default false")
	fmt.Println("option name UCI_ShowWDL type check default false")
	fmt.Println("option name OwnBook type check default false")
	fmt.Println("option name BookFile type string default <empty>")
	fmt.Println("option name SyzygyPath type string default <empty>")
	fmt.Println("option name SyzygyProbeDepth type spin default 1 min 1 max 100")
	fmt.Println("option name Save Hash type string default <empty>")
	fmt.Println("option name Load Hash type string default <empty>")
	fmt.Println("uciok")
}

// handleNewGame resets the engine for a new game.
func (u *UCI) handleNewGame() {
	u.engine.Clear()
	u.position = board.NewPosition()
	u.positionHashes = []uint64{u.position.Hash}
}

// handlePosition parses and sets up a position.
// Formats:
//   - position startpos
//   - position startpos moves e2e4 e7e5
//   - position fen <fen>
//   - position fen <fen> moves e2e4
func (u *UCI) handlePosition(args []string) {
	if len(args) == 0 {
		return
	}

	u.positionHashes = nil
	var moveStart int

	if args[0] == "startpos" {
		u.position = board.NewPosition()
		moveStart = 1
		// Find "moves" keyword
		for i, arg := range args {
			if arg == "moves" {
				moveStart = i + 1
				break
			}
		}
	} else if args[0] == "fen" {
		// Find where FEN ends (at "moves" or end of args)
		fenEnd := len(args)
		for i, arg := range args[1:] {
			if arg == "moves" {
				fenEnd = i + 1
				break
			}
		}

		fenStr := strings.Join(args[1:fenEnd], " ")
		pos, err := board.ParseFEN(fenStr)
		if err != nil {
			fmt.Fprintf(os.Stderr, "info string Invalid FEN: %v\n", err)
			return
		}
		u.position = pos

		// Find "moves" keyword
		moveStart = len(args)
		for i, arg := range args {
			if arg == "moves" {
				moveStart = i + 1
				break
			}
		}
	} else {
		return
	}

	// Record initial position hash
	u.positionHashes = append(u.positionHashes, u.position.Hash)

	// Apply moves
	if moveStart < len(args) {
		for _, moveStr := range args[moveStart:] {
			move := u.parseMove(moveStr)
			if move == board.NoMove {
				fmt.Fprintf(os.Stderr, "info string Invalid move: %s\n", moveStr)
				return
			}
			u.position.MakeMove(move)
			u.position.UpdateCheckers()
			u.positionHashes = append(u.positionHashes, u.position.Hash)
		}
	}

	// Debug: log position state after setup
	if board.DebugMoveValidation {
		legal := u.position.GenerateLegalMoves()
		var legalStrs []string
		for i := 0; i < legal.Len() && i < 8; i++ {
			legalStrs = append(legalStrs, legal.Get(i).String())
		}
		fmt.Fprintf(os.Stderr, "info string DEBUG: After position setup - hash=%016x inCheck=%v legal=%v...\n",
			u.position.Hash, u.position.InCheck(), legalStrs)
	}
}

// parseMove converts a UCI move string to a board.Move.
func (u *UCI) parseMove(moveStr string) board.Move {
	if len(moveStr) < 4 {
		return board.NoMove
	}

	fromFile := int(moveStr[0] - 'a')
	fromRank := int(moveStr[1] - '1')
	toFile := int(moveStr[2] - 'a')
	toRank := int(moveStr[3] - '1')

	if fromFile < 0 || fromFile > 7 || fromRank < 0 || fromRank > 7 ||
		toFile < 0 || toFile > 7 || toRank < 0 || toRank > 7 {
		return board.NoMove
	}

	from := board.NewSquare(fromFile, fromRank)
	to := board.NewSquare(toFile, toRank)

	// Check for promotion
	var promo board.PieceType
	if len(moveStr) == 5 {
		switch moveStr[4] {
		case 'q':
			promo = board.Queen
		case 'r':
			promo = board.Rook
		case 'b':
			promo = board.Bishop
		case 'n':
			promo = board.Knight
		}
	}

	// Find matching legal move
	moves := u.position.GenerateLegalMoves()
	for i := 0; i < moves.Len(); i++ {
		m := moves.Get(i)
		if m.From() == from && m.To() == to {
			if promo != 0 {
				if m.IsPromotion() && m.Promotion() == promo {
					return m
				}
			} else if !m.IsPromotion() {
				return m
			}
		}
	}

	return board.NoMove
}

// handleGo starts a search with the given parameters.
func (u *UCI) handleGo(args []string) {
	limits, searchMoves, ignoreMoves := u.parseGoOptions(args)

	u.engine.SetPositionHistory(u.positionHashes)

	u.engine.OnInfo = func(info engine.SearchInfo) {
		u.sendInfo(info)
	}

	u.pondering.Store(limits.Ponder)
	u.ponderHit.Store(false)

	u.searching = true
	u.stopRequested.Store(false)
	u.searchDone = make(chan struct{})

	pos := u.position.Copy()
	numPV := u.multiPV
	if numPV < 1 {
		numPV = 1
	}

	go func() {
		defer close(u.searchDone)

		results := u.engine.SearchUCI(pos, limits, searchMoves, ignoreMoves, numPV)

		u.searching = false

		var best, ponder board.Move
		if len(results) > 0 {
			best = results[0].Move
			ponder = results[0].Ponder
		}

		validationPos := u.position.Copy()
		legal := validationPos.GenerateLegalMoves()
		legalMove := func(m board.Move) bool {
			for i := 0; i < legal.Len(); i++ {
				if legal.Get(i) == m {
					return true
				}
			}
			return false
		}

		if best == board.NoMove || !legalMove(best) {
			if best != board.NoMove {
				fmt.Fprintf(os.Stderr, "info string CRITICAL: search returned illegal move %s\n", best.String())
			}
			if legal.Len() == 0 {
				fmt.Println("bestmove 0000")
				return
			}
			best = legal.Get(0)
			ponder = board.NoMove
		}

		if ponder != board.NoMove {
			fmt.Printf("bestmove %s ponder %s\n", best.String(), ponder.String())
		} else {
			fmt.Printf("bestmove %s\n", best.String())
		}
	}()
}

// parseGoOptions parses "go" command arguments into engine clock/search
// limits plus the optional searchmoves/ignoremoves restriction lists.
func (u *UCI) parseGoOptions(args []string) (engine.UCILimits, []board.Move, []board.Move) {
	var limits engine.UCILimits
	var searchMoves, ignoreMoves []board.Move

	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "depth":
			if i+1 < len(args) {
				limits.Depth, _ = strconv.Atoi(args[i+1])
				i++
			}
		case "nodes":
			if i+1 < len(args) {
				limits.Nodes, _ = strconv.ParseUint(args[i+1], 10, 64)
				i++
			}
		case "mate":
			if i+1 < len(args) {
				limits.MateIn, _ = strconv.Atoi(args[i+1])
				i++
			}
		case "movetime":
			if i+1 < len(args) {
				ms, _ := strconv.Atoi(args[i+1])
				limits.MoveTime = time.Duration(ms) * time.Millisecond
				i++
			}
		case "infinite":
			limits.Infinite = true
		case "ponder":
			limits.Ponder = true
		case "wtime":
			if i+1 < len(args) {
				ms, _ := strconv.Atoi(args[i+1])
				limits.Time[board.White] = time.Duration(ms) * time.Millisecond
				i++
			}
		case "btime":
			if i+1 < len(args) {
				ms, _ := strconv.Atoi(args[i+1])
				limits.Time[board.Black] = time.Duration(ms) * time.Millisecond
				i++
			}
		case "winc":
			if i+1 < len(args) {
				ms, _ := strconv.Atoi(args[i+1])
				limits.Inc[board.White] = time.Duration(ms) * time.Millisecond
				i++
			}
		case "binc":
			if i+1 < len(args) {
				ms, _ := strconv.Atoi(args[i+1])
				limits.Inc[board.Black] = time.Duration(ms) * time.Millisecond
				i++
			}
		case "movestogo":
			if i+1 < len(args) {
				limits.MovesToGo, _ = strconv.Atoi(args[i+1])
				i++
			}
		case "searchmoves":
			for i+1 < len(args) {
				m := u.parseMove(args[i+1])
				if m == board.NoMove {
					break
				}
				searchMoves = append(searchMoves, m)
				i++
			}
		case "ignoremoves":
			for i+1 < len(args) {
				m := u.parseMove(args[i+1])
				if m == board.NoMove {
					break
				}
				ignoreMoves = append(ignoreMoves, m)
				i++
			}
		}
	}

	return limits, searchMoves, ignoreMoves
}

// sendInfo outputs search info in UCI format.
func (u *UCI) sendInfo(info engine.SearchInfo) {
	var parts []string

	parts = append(parts, fmt.Sprintf("depth %d", info.Depth))
	if info.SelDepth > 0 {
		parts = append(parts, fmt.Sprintf("seldepth %d", info.SelDepth))
	}
	if info.MultiPV > 0 {
		parts = append(parts, fmt.Sprintf("multipv %d", info.MultiPV))
	}

	// Score
	if info.Score > engine.MateScore-100 {
		mateIn := (engine.MateScore - info.Score + 1) / 2
		parts = append(parts, fmt.Sprintf("score mate %d", mateIn))
	} else if info.Score < -engine.MateScore+100 {
		mateIn := -(engine.MateScore + info.Score + 1) / 2
		parts = append(parts, fmt.Sprintf("score mate %d", mateIn))
	} else {
		scorePart := fmt.Sprintf("score cp %d", info.Score)
		switch info.Bound {
		case engine.BoundLower:
			scorePart += " lowerbound"
		case engine.BoundUpper:
			scorePart += " upperbound"
		}
		parts = append(parts, scorePart)
	}

	if u.showWDL {
		w, d, l := scoreToWDL(int(info.Score))
		parts = append(parts, fmt.Sprintf("wdl %d %d %d", w, d, l))
	}

	parts = append(parts, fmt.Sprintf("nodes %d", info.Nodes))
	parts = append(parts, fmt.Sprintf("time %d", info.Time.Milliseconds()))

	// NPS
	if info.Time > 0 {
		nps := uint64(float64(info.Nodes) / info.Time.Seconds())
		parts = append(parts, fmt.Sprintf("nps %d", nps))
	}

	if info.TBHits > 0 {
		parts = append(parts, fmt.Sprintf("tbhits %d", info.TBHits))
	}

	// Hash fullness
	if info.HashFull > 0 {
		parts = append(parts, fmt.Sprintf("hashfull %d", info.HashFull))
	}

	// PV - validate moves to prevent outputting illegal sequences
	if len(info.PV) > 0 {
		validPV := make([]string, 0, len(info.PV))
		testPos := u.position.Copy()
		for _, move := range info.PV {
			// Validate move is legal in current test position
			legal := testPos.GenerateLegalMoves()
			isLegal := false
			for i := 0; i < legal.Len(); i++ {
				if legal.Get(i) == move {
					isLegal = true
					break
				}
			}
			if !isLegal {
				break // Stop at first illegal move
			}
			validPV = append(validPV, move.String())
			testPos.MakeMove(move)
		}
		if len(validPV) > 0 {
			parts = append(parts, "pv "+strings.Join(validPV, " "))
		}
	}

	fmt.Printf("info %s\n", strings.Join(parts, " "))
}

// scoreToWDL converts an internal centipawn score into a win/draw/loss
// permille triple via a logistic model calibrated loosely on Value's scale.
func scoreToWDL(score int) (win, draw, loss int) {
	const scale = 400.0
	p := 1.0 / (1.0 + math.Exp(-float64(score)/scale))
	win = int(p * 1000)
	loss = 1000 - int((1.0/(1.0+math.Exp(float64(score)/scale)))*1000)
	if win+loss > 1000 {
		loss = 1000 - win
	}
	draw = 1000 - win - loss
	if draw < 0 {
		draw = 0
	}
	return win, draw, loss
}

// handleStop stops the current search.
func (u *UCI) handleStop() {
	if u.searching {
		u.stopRequested.Store(true)
		u.pondering.Store(false)
		u.engine.Stop()
		<-u.searchDone // Wait for search to finish
	}
}

// handlePonderHit records the ponderhit in the pondering/ponderHit flags.
// The running search is not signalled: it keeps the limits it was started
// with.
func (u *UCI) handlePonderHit() {
	u.ponderHit.Store(true)
	u.pondering.Store(false)
}

// handleQuit exits the program.
func (u *UCI) handleQuit() {
	u.handleStop()
	// Stop profiling if active
	if u.profileFile != nil {
		pprof.StopCPUProfile()
		u.profileFile.Close()
		fmt.Fprintf(os.Stderr, "info string CPU profile saved\n")
	}
	os.Exit(0)
}

// handleSetOption processes "setoption" commands.
func (u *UCI) handleSetOption(args []string) {
	// Format: setoption name <name> value <value>
	var name, value string
	readingName := false
	readingValue := false

	for _, arg := range args {
		switch arg {
		case "name":
			readingName = true
			readingValue = false
		case "value":
			readingName = false
			readingValue = true
		default:
			if readingName {
				if name != "" {
					name += " "
				}
				name += arg
			} else if readingValue {
				if value != "" {
					value += " "
				}
				value += arg
			}
		}
	}

	// Handle options
	switch strings.ToLower(name) {
	case "hash":
		mb, err := strconv.Atoi(value)
		if err == nil && mb >= 1 {
			u.engine.ResizeHash(mb)
			if u.settings != nil {
				u.settings.HashMB = mb
				u.saveSettings()
			}
		}
	case "threads":
		n, err := strconv.Atoi(value)
		if err == nil && n >= 1 {
			u.engine.SetThreads(n)
			if u.settings != nil {
				u.settings.Threads = n
				u.saveSettings()
			}
		}
	case "clear hash":
		u.engine.Clear()
	case "multipv":
		n, err := strconv.Atoi(value)
		if err == nil && n >= 1 {
			u.multiPV = n
		}
	case "ponder":
		u.ponder = strings.ToLower(value) == "true"
	case "uci_showwdl":
		u.showWDL = strings.ToLower(value) == "true"
	case "save hash":
		u.saveHash(value)
	case "load hash":
		u.loadHash(value)
	case "ownbook":
		u.ownBook = strings.ToLower(value) == "true"
		if u.settings != nil {
			u.settings.OwnBook = u.ownBook
			u.saveSettings()
		}
	case "bookfile":
		u.bookFile = value
		if u.ownBook && u.bookFile != "" {
			if err := u.engine.LoadBook(u.bookFile); err != nil {
				fmt.Fprintf(os.Stderr, "info string Failed to load book: %v\n", err)
			}
		}
		if u.settings != nil {
			u.settings.BookFile = u.bookFile
			u.saveSettings()
		}
	case "syzygypath":
		u.syzygyPath = value
		u.initSyzygy()
		if u.settings != nil {
			u.settings.SyzygyPath = u.syzygyPath
			u.saveSettings()
		}
	case "syzygyprobedepth":
		depth, err := strconv.Atoi(value)
		if err == nil && depth >= 1 {
			u.syzygyProbeDepth = depth
			u.engine.SetSyzygyProbeDepth(depth)
			if u.settings != nil {
				u.settings.SyzygyProbeDepth = depth
				u.saveSettings()
			}
		}
	case "debug":
		enabled := strings.ToLower(value) == "true"
		board.DebugMoveValidation = enabled
		if enabled {
			fmt.Fprintf(os.Stderr, "info string Debug mode enabled\n")
		}
	case "cpuprofile":
		// Stop existing profile if any
		if u.profileFile != nil {
			pprof.StopCPUProfile()
			u.profileFile.Close()
			fmt.Fprintf(os.Stderr, "info string CPU profile stopped\n")
			u.profileFile = nil
		}
		// Start new profile if path provided
		if value != "" && value != "stop" {
			f, err := os.Create(value)
			if err != nil {
				fmt.Fprintf(os.Stderr, "info string Failed to create profile: %v\n", err)
				return
			}
			if err := pprof.StartCPUProfile(f); err != nil {
				f.Close()
				fmt.Fprintf(os.Stderr, "info string Failed to start profile: %v\n", err)
				return
			}
			u.profileFile = f
			fmt.Fprintf(os.Stderr, "info string CPU profiling to %s\n", value)
		}
	}
}

// saveHash writes the transposition table to path, little-endian cluster
// array plus header (spec's "Save Hash").
func (u *UCI) saveHash(path string) {
	if path == "" {
		return
	}
	f, err := os.Create(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "info string Failed to save hash: %v\n", err)
		return
	}
	defer f.Close()
	if err := u.engine.SaveHash(f); err != nil {
		fmt.Fprintf(os.Stderr, "info string Failed to save hash: %v\n", err)
	}
}

// loadHash replaces the transposition table's contents from path.
func (u *UCI) loadHash(path string) {
	if path == "" {
		return
	}
	f, err := os.Open(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "info string Failed to load hash: %v\n", err)
		return
	}
	defer f.Close()
	if err := u.engine.LoadHash(f); err != nil {
		fmt.Fprintf(os.Stderr, "info string Failed to load hash: %v\n", err)
	}
}

// initSyzygy initializes Syzygy tablebase probing.
func (u *UCI) initSyzygy() {
	if u.syzygyPath == "" {
		return
	}

	u.syzygyProber = tablebase.NewSyzygyProber(u.syzygyPath)
	u.engine.SetTablebase(u.syzygyProber)

	probeDepth := u.syzygyProbeDepth
	if probeDepth < 1 {
		probeDepth = 1
	}
	u.engine.SetSyzygyProbeDepth(probeDepth)

	fmt.Fprintf(os.Stderr, "info string Syzygy tablebase initialized at %s\n", u.syzygyPath)
}

// handlePerft runs a perft test.
func (u *UCI) handlePerft(args []string) {
	depth := 5
	if len(args) > 0 {
		depth, _ = strconv.Atoi(args[0])
	}

	start := time.Now()
	nodes := u.engine.Perft(u.position, depth)
	elapsed := time.Since(start)

	fmt.Printf("Nodes: %d\n", nodes)
	fmt.Printf("Time: %v\n", elapsed)
	if elapsed > 0 {
		nps := float64(nodes) / elapsed.Seconds()
		fmt.Printf("NPS: %.0f\n", nps)
	}
}
