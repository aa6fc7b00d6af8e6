package console

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"label-inspector/internal/adapter/tui/theme"
	"label-inspector/internal/domain"
)

// Ensure *Model satisfies tea.Model.
var _ tea.Model = (*Model)(nil)

// Actions is what the operator can trigger from the keyboard.
type Actions interface {
	Toggle(ctx context.Context) domain.Result[domain.Ack]
	Process(ctx context.Context) domain.Result[domain.InspectionResult]
}

// BackendStatus reports the supervised process state.
type BackendStatus interface {
	Status() domain.BackendStatus
}

// Deps are dependencies for the console.
type Deps struct {
	Ctx     context.Context // application context for station actions
	Bus     domain.EventBus
	Station Actions
	Backend BackendStatus // can be nil
	Title   string
}

// errorBanner is the last operator-visible error.
type errorBanner struct {
	title   string
	message string
	fatal   bool
}

// Model is the root Bubble Tea model of the operator console.
type Model struct {
	deps Deps

	// Live view.
	playing     bool
	frames      uint64
	lastSeq     uint64
	fps         float64
	ticksFrames uint64
	lastTick    time.Time
	width       int
	height      int
	frameW      int
	frameH      int
	liveNote    string // placeholder name while no frame is shown
	loopReason  string

	// Backend.
	backend       domain.BackendStatus
	probeAttempts int

	// Inspection.
	pending     bool
	inspection  *domain.InspectionResult
	inspectNote string
	matched     resultTable
	defects     resultTable
	spinner     spinner.Model

	banner    *errorBanner
	statusBar statusBar

	programSend func(tea.Msg)
	unsubscribe func()
	quitting    bool
}

// New creates the console model.
func New(deps Deps) *Model {
	if deps.Ctx == nil {
		deps.Ctx = context.Background()
	}
	if deps.Title == "" {
		deps.Title = "Label Inspector"
	}
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = theme.TextInfo

	m := &Model{
		deps:      deps,
		playing:   true,
		lastTick:  time.Now(),
		matched:   newResultTable("Matched Results", false),
		defects:   newResultTable("Defect Results", true),
		spinner:   s,
		statusBar: statusBar{hints: defaultHints, width: 80},
		width:     80,
	}
	if deps.Backend != nil {
		m.backend = deps.Backend.Status()
	}
	return m
}

// SetProgramSender sets the function used to inject messages from the EventBus.
// Must be called before Run().
func (m *Model) SetProgramSender(send func(tea.Msg)) {
	m.programSend = send
}

// Init subscribes to the EventBus and starts the refresh tick.
func (m *Model) Init() tea.Cmd {
	if m.deps.Bus != nil && m.programSend != nil {
		m.unsubscribe = m.deps.Bus.SubscribeAll(func(_ context.Context, event domain.Event) {
			m.programSend(EventBusMsg{Event: event})
		})
	}
	return tickCmd()
}

// Update handles messages.
func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.layout()
		return m, nil

	case tea.KeyMsg:
		return m.handleKey(msg)

	case EventBusMsg:
		return m.handleEvent(msg.Event)

	case ActionDoneMsg:
		m.statusBar.extra = ""
		if !msg.OK {
			m.statusBar.extra = msg.Op + ": " + msg.Message
		}
		return m, nil

	case tickMsg:
		m.onTick(time.Time(msg))
		return m, tickCmd()

	case spinner.TickMsg:
		if !m.pending {
			return m, nil
		}
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}
	return m, nil
}

func (m *Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "ctrl+c", "q":
		return m, m.quit()
	case " ":
		if m.deps.Station == nil {
			return m, nil
		}
		if m.playing {
			m.statusBar.extra = "Pausing" + theme.SymbolEllipsis
		} else {
			m.statusBar.extra = "Resuming" + theme.SymbolEllipsis
		}
		return m, toggleCmd(m.deps.Ctx, m.deps.Station)
	case "p":
		if m.deps.Station == nil || m.pending {
			return m, nil
		}
		m.statusBar.extra = "Processing" + theme.SymbolEllipsis
		return m, processCmd(m.deps.Ctx, m.deps.Station)
	case "esc":
		if m.banner != nil && !m.banner.fatal {
			m.banner = nil
		}
		return m, nil
	}
	return m, nil
}

func (m *Model) quit() tea.Cmd {
	m.quitting = true
	m.Detach()
	return tea.Quit
}

// Detach drops the EventBus subscription. Call it when the program was
// stopped from outside.
func (m *Model) Detach() {
	if m.unsubscribe != nil {
		m.unsubscribe()
		m.unsubscribe = nil
	}
}

// Quitting reports whether the operator asked to leave.
func (m *Model) Quitting() bool { return m.quitting }

func (m *Model) handleEvent(ev domain.Event) (tea.Model, tea.Cmd) {
	switch ev.Type {
	case domain.EventFrameRendered:
		var p domain.FramePayload
		if json.Unmarshal(ev.Payload, &p) != nil {
			return m, nil
		}
		m.frames++
		m.lastSeq = p.Seq
		m.liveNote = ""
		if w, h, ok := frameDims(p.Image); ok {
			m.frameW, m.frameH = w, h
		}

	case domain.EventFallbackShown:
		var p domain.FallbackPayload
		if json.Unmarshal(ev.Payload, &p) != nil {
			return m, nil
		}
		switch p.Target {
		case domain.TargetLive:
			m.liveNote = placeholderText(p.Image)
		case domain.TargetInspection:
			m.inspection = nil
			m.inspectNote = placeholderText(p.Image)
			m.matched.SetRecords(nil)
			m.defects.SetRecords(nil)
		}

	case domain.EventErrorSurfaced:
		var p domain.ErrorPayload
		if json.Unmarshal(ev.Payload, &p) != nil {
			return m, nil
		}
		m.banner = &errorBanner{title: p.Title, message: p.Message, fatal: p.Fatal}

	case domain.EventInspectionPending:
		m.pending = true
		m.inspectNote = ""
		return m, m.spinner.Tick

	case domain.EventInspectionCompleted:
		var r domain.InspectionResult
		if json.Unmarshal(ev.Payload, &r) != nil {
			return m, nil
		}
		m.pending = false
		m.inspection = &r
		m.inspectNote = ""
		m.matched.SetRecords(r.Matched)
		m.defects.SetRecords(r.Defects)

	case domain.EventInspectionFailed:
		var p domain.InspectionFailedPayload
		json.Unmarshal(ev.Payload, &p)
		m.pending = false
		m.inspection = nil
		m.inspectNote = p.Message

	case domain.EventPlayStateChanged:
		var p domain.PlayStatePayload
		if json.Unmarshal(ev.Payload, &p) == nil {
			m.playing = p.Playing
		}

	case domain.EventStreamStopped:
		var p domain.StreamStoppedPayload
		if json.Unmarshal(ev.Payload, &p) == nil {
			m.loopReason = p.Reason
		}

	case domain.EventProbeAttempt:
		m.probeAttempts++

	case domain.EventBackendStarted, domain.EventBackendReady, domain.EventBackendExited,
		domain.EventBackendFatal, domain.EventBackendStopped:
		m.refreshBackend()
		if ev.Type == domain.EventBackendReady {
			m.backend.State = domain.BackendStateReady
		}
	}
	return m, nil
}

func (m *Model) onTick(now time.Time) {
	elapsed := now.Sub(m.lastTick).Seconds()
	if elapsed > 0 {
		m.fps = float64(m.frames-m.ticksFrames) / elapsed
	}
	m.ticksFrames = m.frames
	m.lastTick = now
	m.refreshBackend()
}

func (m *Model) refreshBackend() {
	if m.deps.Backend != nil {
		m.backend = m.deps.Backend.Status()
	}
}

func (m *Model) layout() {
	m.statusBar.width = m.width
	tableW := m.width - 4
	if m.width >= theme.MinSplitWidth {
		tableW = m.width/2 - 4
	}
	m.matched.SetWidth(tableW)
	m.defects.SetWidth(tableW)
}

func placeholderText(img domain.FallbackImage) string {
	switch img {
	case domain.ImageNoCamera:
		return "No camera"
	case domain.ImageNoImage:
		return "No image"
	}
	return string(img)
}

// View renders the console.
func (m *Model) View() string {
	if m.quitting {
		return ""
	}
	sections := []string{
		m.headerView(),
		m.liveView(),
	}
	if m.banner != nil {
		sections = append(sections, m.bannerView())
	}
	sections = append(sections, m.inspectionView(), m.statusBar.View())
	return lipgloss.JoinVertical(lipgloss.Left, sections...)
}

func (m *Model) headerView() string {
	title := theme.PanelTitle.Render(m.deps.Title)

	play := theme.TextSuccess.Render(theme.SymbolPlay + " PLAYING")
	if !m.playing {
		play = theme.TextWarning.Render(theme.SymbolPause + " PAUSED")
	}

	return title + "   " + play + "   " + m.backendView()
}

func (m *Model) backendView() string {
	b := m.backend
	if b.State == "" {
		return theme.TextMuted.Render("backend: unknown")
	}
	label := "backend: " + string(b.State)
	if b.PID != 0 {
		label += fmt.Sprintf(" (pid %d)", b.PID)
	}
	switch b.State {
	case domain.BackendStateReady, domain.BackendStateExternal:
		return theme.TextSuccess.Render(label)
	case domain.BackendStateStarting:
		if m.probeAttempts > 0 {
			label += fmt.Sprintf(" probe %d", m.probeAttempts)
		}
		return theme.TextInfo.Render(label)
	case domain.BackendStateRunning:
		return theme.TextWarning.Render(label)
	default:
		return theme.TextError.Render(label)
	}
}

func (m *Model) liveView() string {
	var parts []string
	switch {
	case m.liveNote != "":
		parts = append(parts, theme.TextWarning.Render(m.liveNote))
	case m.frames == 0:
		parts = append(parts, theme.TextMuted.Render("Waiting for frames"+theme.SymbolEllipsis))
	default:
		parts = append(parts, stat("frame", fmt.Sprintf("#%d", m.lastSeq)))
	}
	parts = append(parts,
		stat("frames", fmt.Sprintf("%d", m.frames)),
		stat("fps", fmt.Sprintf("%.1f", m.fps)),
	)
	if m.frameW > 0 {
		parts = append(parts, stat("size", fmt.Sprintf("%dx%d", m.frameW, m.frameH)))
	}
	if m.loopReason != "" && (!m.playing || m.liveNote != "") {
		parts = append(parts, stat("loop", m.loopReason))
	}
	return theme.Panel.Render(strings.Join(parts, "   "))
}

func stat(label, value string) string {
	return theme.StatLabel.Render(label+" ") + theme.StatValue.Render(value)
}

func (m *Model) bannerView() string {
	b := m.banner
	title := theme.TextError.Render(theme.SymbolError + " " + b.title)
	body := b.message
	if !b.fatal {
		body += "\n" + theme.TextMuted.Render("esc to dismiss")
	}
	width := theme.Clamp(m.width-2, 20, theme.MaxContentWidth)
	return theme.ErrorBanner.Width(width).Render(title + "\n" + body)
}

func (m *Model) inspectionView() string {
	var status string
	switch {
	case m.pending:
		status = m.spinner.View() + " Processing" + theme.SymbolEllipsis
	case m.inspection != nil && m.inspection.OK():
		status = theme.TextSuccess.Render(theme.SymbolSuccess + " " + m.inspection.Status)
	case m.inspection != nil:
		status = theme.TextError.Render(theme.SymbolError + " " + m.inspection.Status)
	case m.inspectNote != "":
		status = theme.TextWarning.Render(m.inspectNote)
	default:
		status = theme.TextMuted.Render("No inspection yet")
	}
	header := theme.Bold.Render("Inspection: ") + status

	if m.inspection == nil {
		return header
	}
	tables := lipgloss.JoinVertical(lipgloss.Left, m.matched.View(), m.defects.View())
	if m.width >= theme.MinSplitWidth {
		tables = lipgloss.JoinHorizontal(lipgloss.Top, m.matched.View(), m.defects.View())
	}
	return lipgloss.JoinVertical(lipgloss.Left, header, tables)
}
