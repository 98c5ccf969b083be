package bill

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

const (
	summaryHeader  = "*Resumo da Conta - DivideAI*"
	summaryDivider = "------------------------------"
	summaryFooter  = "Gerado por DivideAI"
	noItemsLine    = "(Nenhum item consumido)"
	indent         = "   "
)

// FormatSummary renders the per-person breakdown as the shareable text block
func FormatSummary(b *Bill, optIns OptIns) string {
	return FormatBreakdown(Calculate(b, optIns))
}

// FormatBreakdown renders an already calculated breakdown
func FormatBreakdown(result Breakdown) string {
	var sb strings.Builder

	sb.WriteString(summaryHeader + "\n")
	sb.WriteString(summaryDivider + "\n")

	for _, split := range result.People {
		fmt.Fprintf(&sb, "\n*%s*\n", split.Person.Name)

		if len(split.Items) == 0 {
			sb.WriteString(indent + noItemsLine + "\n")
		}
		for _, share := range split.Items {
			label := share.Name
			if share.Shared() {
				label = fmt.Sprintf("%s (1/%d)", share.Name, share.ShareCount)
			}
			fmt.Fprintf(&sb, "%s- %s: %s\n", indent, label, FormatMoney(share.SplitValue))
		}

		if split.WantsServiceFee && split.Fee != 0 {
			fmt.Fprintf(&sb, "%s+ Taxa (%s%%): %s\n", indent, FormatPercent(result.ServicePercent), FormatMoney(split.Fee))
		}

		fmt.Fprintf(&sb, "%s*Total: %s*\n", indent, FormatMoney(split.Total))
	}

	sb.WriteString("\n" + summaryDivider + "\n")
	sb.WriteString(summaryFooter)

	return sb.String()
}

// FormatMoney renders an amount with the currency symbol and two decimals
func FormatMoney(v float64) string {
	return "R$ " + decimal.NewFromFloat(finite(v)).StringFixed(2)
}

// FormatPercent renders a percentage with at most two decimals, e.g. 10, 12.5
func FormatPercent(p float64) string {
	return decimal.NewFromFloat(finite(p)).Round(2).String()
}
