// Package dashboard 终端仪表盘：每秒读取调度器状态并渲染报价、持仓和最近结算。
package dashboard

import (
	"context"
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/shopspring/decimal"

	"github.com/betbot/updown/internal/domain"
	"github.com/betbot/updown/internal/oms"
	"github.com/betbot/updown/internal/services"
)

// StatusSource 调度器状态
type StatusSource interface {
	Status() services.Status
}

const recentRows = 8

var (
	headerStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("15")).
			Background(lipgloss.Color("62")).
			Padding(0, 1)

	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("15"))

	upStyle = lipgloss.NewStyle().
		Foreground(lipgloss.Color("2")) // 绿色

	downStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("1")) // 红色

	mutedStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("244"))

	borderStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("238")).
			Padding(0, 1)
)

type tickMsg time.Time

type model struct {
	source StatusSource
	status services.Status
	cancel context.CancelFunc
}

func (m model) Init() tea.Cmd {
	return tickCmd()
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "q":
			if m.cancel != nil {
				m.cancel()
			}
			return m, tea.Quit
		}
	case tickMsg:
		m.status = m.source.Status()
		return m, tickCmd()
	}
	return m, nil
}

func (m model) View() string {
	return Render(m.status) + "\n" + mutedStyle.Render("按 q 退出")
}

func tickCmd() tea.Cmd {
	return tea.Tick(time.Second, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

// Run 阻塞运行仪表盘；用户退出时调用 cancel 让机器人一起停止
func Run(ctx context.Context, source StatusSource, cancel context.CancelFunc) error {
	m := model{source: source, status: source.Status(), cancel: cancel}
	p := tea.NewProgram(m, tea.WithAltScreen(), tea.WithContext(ctx))
	_, err := p.Run()
	if err != nil && ctx.Err() != nil {
		return nil
	}
	return err
}

// Render 把状态渲染为文本
func Render(st services.Status) string {
	var s strings.Builder

	halted := ""
	if st.Halted {
		halted = " | ⏸️ 入场已暂停"
	}
	header := fmt.Sprintf("周期: %s | 已过 %ds 剩余 %ds | tick %d 错误 %d%s",
		time.Unix(st.Period, 0).Format("2006-01-02 15:04:05"), st.Elapsed, st.Remaining, st.Ticks, st.TickErrors, halted)
	s.WriteString(headerStyle.Render(header))
	s.WriteString("\n\n")

	var books []string
	for _, m := range st.Markets {
		books = append(books, renderMarket(m, st.Quotes))
	}
	if len(books) > 0 {
		s.WriteString(lipgloss.JoinHorizontal(lipgloss.Top, books...))
	} else {
		s.WriteString(mutedStyle.Render("等待市场数据..."))
	}
	s.WriteString("\n\n")

	s.WriteString(titleStyle.Render("持仓记录"))
	s.WriteString("\n")
	if len(st.Live) == 0 {
		s.WriteString("  --\n")
	}
	for _, r := range st.Live {
		s.WriteString(fmt.Sprintf("  %-40s %-5s %-16s %8.2f @%s\n", r.Key, r.Token, r.State, r.Shares, avgPrice(r)))
	}
	s.WriteString("\n")

	s.WriteString(titleStyle.Render("最近结算"))
	s.WriteString("\n")
	if len(st.Recent) == 0 {
		s.WriteString("  --\n")
	}
	for i := len(st.Recent) - 1; i >= 0 && i >= len(st.Recent)-recentRows; i-- {
		s.WriteString("  " + renderOutcome(st.Recent[i]) + "\n")
	}

	if st.LastError != "" {
		s.WriteString("\n")
		s.WriteString(downStyle.Render("最近错误: " + st.LastError))
		s.WriteString("\n")
	}
	return s.String()
}

func renderMarket(m *domain.Market, quotes map[string]domain.TokenQuote) string {
	var s strings.Builder
	s.WriteString(titleStyle.Render(m.Slug))
	s.WriteString("\n")
	s.WriteString(upStyle.Render("UP  ") + quoteText(quotes[m.YesAssetID]) + "\n")
	s.WriteString(downStyle.Render("DOWN") + quoteText(quotes[m.NoAssetID]))
	return borderStyle.Render(s.String())
}

func quoteText(q domain.TokenQuote) string {
	bid, ask := "--", "--"
	if q.HasBid {
		bid = q.Bid.String()
	}
	if q.HasAsk {
		ask = q.Ask.String()
	}
	return fmt.Sprintf("  bid %6s  ask %6s", bid, ask)
}

func avgPrice(r domain.TradeRecord) string {
	if r.Shares <= domain.ShareEpsilon {
		return r.EntryPrice.String()
	}
	return r.EntryCost.Div(decimal.NewFromFloat(r.Shares)).StringFixed(4)
}

func renderOutcome(o oms.PeriodOutcome) string {
	slug := ""
	if o.Market != nil {
		slug = o.Market.Slug
	}
	winner := "?"
	if o.Determined {
		winner = string(o.Winner)
	}
	line := fmt.Sprintf("%-28s 赢方 %-4s 成本 %s 价值 %s P&L %s",
		slug, winner, o.Cost.StringFixed(4), o.Value.StringFixed(4), o.PnL.StringFixed(4))
	switch o.Result() {
	case "win":
		return upStyle.Render(line)
	case "loss":
		return downStyle.Render(line)
	}
	return line
}
