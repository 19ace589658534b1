// console 是管理端 TUI：通过控制面 HTTP API 轮询机器人列表与系统健康，
// 并支持在终端里直接启停机器人。
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/go-resty/resty/v2"
	"github.com/pkg/errors"

	"github.com/craftbot/gocraft/internal/domain"
)

var (
	// 样式定义
	headerStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("15")).
			Background(lipgloss.Color("62")).
			Padding(0, 1)

	selectedStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("0")).
			Background(lipgloss.Color("6"))

	runningStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("2")) // 绿色

	connectingStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("3")) // 黄色

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("1")) // 红色

	dimStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("241"))

	borderStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("238")).
			Padding(0, 1)
)

// apiClient 控制面 API 的瘦客户端
type apiClient struct {
	http    *resty.Client
	ownerID int64
}

type healthReply struct {
	Status        string `json:"status"`
	DB            bool   `json:"db"`
	LiveSessions  int    `json:"live_sessions"`
	UptimeSeconds int64  `json:"uptime_seconds"`
}

type botsReply struct {
	Bots []domain.BotRecord `json:"bots"`
}

func newAPIClient(baseURL string, ownerID int64) *apiClient {
	return &apiClient{
		http: resty.New().
			SetBaseURL(strings.TrimRight(baseURL, "/")).
			SetTimeout(5 * time.Second),
		ownerID: ownerID,
	}
}

func (c *apiClient) health() (*healthReply, error) {
	var out healthReply
	resp, err := c.http.R().SetResult(&out).Get("/health")
	if err != nil {
		return nil, errors.Wrap(err, "health")
	}
	if resp.IsError() && resp.StatusCode() != 503 {
		return nil, errors.Errorf("health: http %d", resp.StatusCode())
	}
	return &out, nil
}

func (c *apiClient) listBots() ([]domain.BotRecord, error) {
	var out botsReply
	resp, err := c.http.R().
		SetQueryParam("owner_id", fmt.Sprintf("%d", c.ownerID)).
		SetResult(&out).
		Get("/api/bots")
	if err != nil {
		return nil, errors.Wrap(err, "list bots")
	}
	if resp.IsError() {
		return nil, errors.Errorf("list bots: http %d", resp.StatusCode())
	}
	return out.Bots, nil
}

func (c *apiClient) startBot(id string) error { return c.post("/api/bots/" + id + "/start") }
func (c *apiClient) stopBot(id string) error  { return c.post("/api/bots/" + id + "/stop") }

func (c *apiClient) post(path string) error {
	resp, err := c.http.R().Post(path)
	if err != nil {
		return errors.Wrap(err, path)
	}
	if resp.IsError() {
		var body struct {
			Error string `json:"error"`
		}
		if jsonErr := tryUnmarshal(resp.Body(), &body); jsonErr == nil && body.Error != "" {
			return errors.New(body.Error)
		}
		return errors.Errorf("%s: http %d", path, resp.StatusCode())
	}
	return nil
}

func tryUnmarshal(b []byte, out any) error {
	if len(b) == 0 {
		return errors.New("empty body")
	}
	return json.Unmarshal(b, out)
}

// tickMsg 定时刷新
type tickMsg time.Time

// refreshMsg 一次轮询的结果
type refreshMsg struct {
	health *healthReply
	bots   []domain.BotRecord
	err    error
}

// actionMsg 启停操作的结果
type actionMsg struct {
	verb string
	name string
	err  error
}

type model struct {
	api *apiClient

	bots     []domain.BotRecord
	health   *healthReply
	cursor   int
	lastErr  error
	lastNote string
}

func tickCmd() tea.Cmd {
	return tea.Tick(2*time.Second, func(t time.Time) tea.Msg { return tickMsg(t) })
}

func refreshCmd(api *apiClient) tea.Cmd {
	return func() tea.Msg {
		h, err := api.health()
		if err != nil {
			return refreshMsg{err: err}
		}
		bots, err := api.listBots()
		if err != nil {
			return refreshMsg{health: h, err: err}
		}
		return refreshMsg{health: h, bots: bots}
	}
}

func (m model) Init() tea.Cmd {
	return tea.Batch(tickCmd(), refreshCmd(m.api))
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "q":
			return m, tea.Quit
		case "up", "k":
			if m.cursor > 0 {
				m.cursor--
			}
		case "down", "j":
			if m.cursor < len(m.bots)-1 {
				m.cursor++
			}
		case "r":
			return m, refreshCmd(m.api)
		case "s":
			if b, ok := m.selected(); ok {
				api := m.api
				return m, func() tea.Msg {
					return actionMsg{verb: "start", name: b.Name, err: api.startBot(b.ID)}
				}
			}
		case "x":
			if b, ok := m.selected(); ok {
				api := m.api
				return m, func() tea.Msg {
					return actionMsg{verb: "stop", name: b.Name, err: api.stopBot(b.ID)}
				}
			}
		}

	case tickMsg:
		return m, tea.Batch(tickCmd(), refreshCmd(m.api))

	case refreshMsg:
		m.lastErr = msg.err
		if msg.health != nil {
			m.health = msg.health
		}
		if msg.err == nil {
			m.bots = msg.bots
			if m.cursor >= len(m.bots) {
				m.cursor = len(m.bots) - 1
			}
			if m.cursor < 0 {
				m.cursor = 0
			}
		}

	case actionMsg:
		if msg.err != nil {
			m.lastNote = fmt.Sprintf("%s %s: %v", msg.verb, msg.name, msg.err)
		} else {
			m.lastNote = fmt.Sprintf("%s %s: ok", msg.verb, msg.name)
		}
		return m, refreshCmd(m.api)
	}
	return m, nil
}

func (m model) selected() (domain.BotRecord, bool) {
	if m.cursor < 0 || m.cursor >= len(m.bots) {
		return domain.BotRecord{}, false
	}
	return m.bots[m.cursor], true
}

func (m model) View() string {
	var sb strings.Builder

	title := " craftbot console "
	if m.health != nil {
		title += fmt.Sprintf("· %d live · up %s ", m.health.LiveSessions,
			(time.Duration(m.health.UptimeSeconds) * time.Second).String())
	}
	sb.WriteString(headerStyle.Render(title))
	sb.WriteString("\n\n")

	if len(m.bots) == 0 {
		sb.WriteString(dimStyle.Render("（无机器人）"))
		sb.WriteString("\n")
	}
	for i, b := range m.bots {
		line := fmt.Sprintf("%-16s %-22s %-8s %-10s %s",
			b.Name, b.Addr(), b.Edition, b.ProtocolVersion, string(b.Status))
		switch b.Status {
		case domain.StatusRunning:
			line = runningStyle.Render(line)
		case domain.StatusConnecting:
			line = connectingStyle.Render(line)
		case domain.StatusError:
			line = errorStyle.Render(line)
		default:
			line = dimStyle.Render(line)
		}
		if i == m.cursor {
			line = selectedStyle.Render("> ") + line
		} else {
			line = "  " + line
		}
		sb.WriteString(line)
		sb.WriteString("\n")
	}

	sb.WriteString("\n")
	if m.lastNote != "" {
		sb.WriteString(dimStyle.Render(m.lastNote))
		sb.WriteString("\n")
	}
	if m.lastErr != nil {
		sb.WriteString(errorStyle.Render("error: " + m.lastErr.Error()))
		sb.WriteString("\n")
	}
	sb.WriteString(dimStyle.Render("↑/↓ 选择  s 启动  x 停止  r 刷新  q 退出"))

	return borderStyle.Render(sb.String())
}

func main() {
	var (
		apiURL  = flag.String("api", envDefault("CRAFTBOT_API", "http://127.0.0.1:8080"), "control plane base URL")
		ownerID = flag.Int64("owner", 0, "owner telegram id to list bots for")
	)
	flag.Parse()

	if *ownerID <= 0 {
		fmt.Fprintln(os.Stderr, "usage: console -owner <telegram-user-id> [-api http://host:port]")
		os.Exit(2)
	}

	m := model{api: newAPIClient(*apiURL, *ownerID)}
	if _, err := tea.NewProgram(m, tea.WithAltScreen()).Run(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func envDefault(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}
