package backtest

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/shopspring/decimal"
)

var (
	titleStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("39"))
	headStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("245"))
	winStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("46"))
	lossStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	warnStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("226"))
	boxStyle   = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("39")).
			Padding(0, 1)
)

// Render 渲染终端报告；verbose 时列出每个周期
func Render(rep Report, verbose bool) string {
	var b strings.Builder

	if verbose && len(rep.Periods) > 0 {
		b.WriteString(titleStyle.Render("📈 周期明细"))
		b.WriteString("\n")
		b.WriteString(headStyle.Render(fmt.Sprintf("%-28s %-5s %-22s %9s %9s %9s", "market", "win", "fills", "cost", "value", "pnl")))
		b.WriteString("\n")
		for _, r := range rep.Periods {
			line := fmt.Sprintf("%-28s %-5s %-22s %9s %9s %9s",
				r.Slug, r.Winner, fillsSummary(r), r.Cost.StringFixed(4), r.Value.StringFixed(4), r.PnL.StringFixed(4))
			b.WriteString(pnlStyle(r.PnL).Render(line))
			b.WriteString("\n")
		}
		b.WriteString("\n")
	}

	if len(rep.Excluded) > 0 {
		b.WriteString(warnStyle.Render(fmt.Sprintf("⚠️ 排除 %d 个周期", len(rep.Excluded))))
		b.WriteString("\n")
		if verbose {
			for _, e := range rep.Excluded {
				b.WriteString(fmt.Sprintf("  %s: %s\n", e.Name, e.Reason))
			}
		}
		b.WriteString("\n")
	}

	total := len(rep.Periods)
	winRate := 0.0
	if total > 0 {
		winRate = float64(rep.Wins) / float64(total) * 100
	}
	summary := strings.Join([]string{
		titleStyle.Render("📊 回测汇总"),
		fmt.Sprintf("周期数:   %d", total),
		fmt.Sprintf("盈/亏/平: %s / %s / %d (胜率 %.1f%%)",
			winStyle.Render(fmt.Sprint(rep.Wins)), lossStyle.Render(fmt.Sprint(rep.Losses)), rep.Flats, winRate),
		fmt.Sprintf("总成本:   $%s", rep.TotalCost.StringFixed(4)),
		fmt.Sprintf("总价值:   $%s", rep.TotalValue.StringFixed(4)),
		fmt.Sprintf("总盈亏:   %s", pnlStyle(rep.TotalPnL).Render("$"+rep.TotalPnL.StringFixed(4))),
	}, "\n")
	b.WriteString(boxStyle.Render(summary))
	b.WriteString("\n")
	return b.String()
}

func pnlStyle(pnl decimal.Decimal) lipgloss.Style {
	switch pnl.Sign() {
	case 1:
		return winStyle
	case -1:
		return lossStyle
	}
	return lipgloss.NewStyle()
}

func fillsSummary(r PeriodResult) string {
	if len(r.Fills) == 0 {
		return "-"
	}
	parts := make([]string, 0, len(r.Fills))
	for _, f := range r.Fills {
		tag := ""
		if f.Hedge {
			tag = "*"
		}
		parts = append(parts, fmt.Sprintf("%s@%s%s", f.Token, f.Price, tag))
	}
	return strings.Join(parts, " ")
}
