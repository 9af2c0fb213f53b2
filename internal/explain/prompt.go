// Package explain produces the forensic report for flagged transactions by
// prompting an external text-generation API.
package explain

import (
	"fmt"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/opensource-finance/walletwatch/internal/domain"
)

// PromptInput carries everything the report is grounded on.
type PromptInput struct {
	Candidate domain.Transaction
	Windows   []domain.WalletWindow
	Metrics   []domain.WalletMetrics
	Rules     []domain.RuleDefinition

	// BigTxnThreshold is listed with the rules; it does not gate the flag.
	BigTxnThreshold float64
}

// BuildPrompt renders the four-section forensic report request. now sets
// the analysis date.
func BuildPrompt(in PromptInput, now time.Time) string {
	var b strings.Builder

	b.WriteString("FORENSIC CRYPTO TRANSACTION RISK REPORT\n\n")

	b.WriteString("SECTION 1: HISTORICAL TRANSACTION REFERENCE\n")
	b.WriteString("- Data Source: wallet transaction store\n")
	b.WriteString("- Summary Tables:\n")
	for _, w := range in.Windows {
		writeWindow(&b, w)
	}
	b.WriteString("- Key Patterns: Identify trends, anomalies, or outliers in historical wallet activity.\n\n")

	b.WriteString("SECTION 2: CURRENT TRANSACTION DETAILS\n")
	fmt.Fprintf(&b, "- Sender: %s\n", in.Candidate.Sender)
	fmt.Fprintf(&b, "- Receiver: %s\n", in.Candidate.Receiver)
	fmt.Fprintf(&b, "- Amount: %s BTC\n", in.Candidate.Amount.String())
	fmt.Fprintf(&b, "- Timestamp: %s\n", in.Candidate.Timestamp.UTC().Format(time.RFC3339))
	for _, m := range in.Metrics {
		writeMetrics(&b, m)
	}
	b.WriteString("\n")

	b.WriteString("SECTION 3: APPLIED FRAUD DETECTION RULES\n")
	b.WriteString("The following rules are used to assess the current transaction:\n")
	for i, r := range in.Rules {
		params := make([]string, len(r.Parameters))
		for j, p := range r.Parameters {
			params[j] = p.Name + "=" + strconv.FormatFloat(p.Value, 'f', -1, 64)
		}
		fmt.Fprintf(&b, "%d. %s (Thresholds: %s)\n", i+1, r.Description, strings.Join(params, ", "))
	}
	fmt.Fprintf(&b, "%d. Big transaction threshold >= %s BTC, reported only (Thresholds: big_txn_threshold=%s)\n\n",
		len(in.Rules)+1,
		strconv.FormatFloat(in.BigTxnThreshold, 'f', -1, 64),
		strconv.FormatFloat(in.BigTxnThreshold, 'f', -1, 64))

	b.WriteString("SECTION 4: ANALYSIS TASK\n")
	b.WriteString(analysisTask)
	fmt.Fprintf(&b, "Take %s as the analysis date.\n", now.UTC().Format("2006-01-02"))

	return b.String()
}

const analysisTask = `Please provide a structured forensic risk report that includes:
1. Which specific rules were violated by the current transaction, referencing both the transaction details and historical data, as bullet points.
2. A correlation check between the current transaction and historical wallet behavior with the help of the rules.
3. A breakdown of risk factors as a bulleted list. For each risk factor include:
    - Risk Factor Name
    - Justification
    - Why this contribution is needed for the overall risk assessment
   End the list with a summary bullet for **Overall Risk Assessment**.
4. Actionable recommendations for investigators, including next steps and potential red flags.
5. Suggestions for additional data or context that could improve future risk assessments.

Format your response as a professional forensic report, using bullet points, tables, or numbered lists where appropriate. Be concise, evidence-based, and reference both the rules and historical data.
`

func writeWindow(b *strings.Builder, w domain.WalletWindow) {
	fmt.Fprintf(b, "\nWallet %s (%d transactions)\n", w.Wallet, w.Len())

	tw := tabwriter.NewWriter(b, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "timestamp\tinput_address\toutput_address\ttransaction_value_btc")
	for _, tx := range w.Transactions {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n",
			tx.Timestamp.UTC().Format(time.RFC3339), tx.Sender, tx.Receiver, tx.Amount.String())
	}
	tw.Flush()
	b.WriteString("\n")
}

func writeMetrics(b *strings.Builder, m domain.WalletMetrics) {
	ratio := "undefined"
	if m.RatioInOut.Valid {
		ratio = m.RatioInOut.Decimal.StringFixed(4)
	}
	triggered := "none"
	if len(m.TriggeredRules) > 0 {
		triggered = strings.Join(m.TriggeredRules, ", ")
	}

	fmt.Fprintf(b, "- Wallet %s: fraudulent=%t, mean=%s BTC, interval=%.0fs, unique senders=%d, unique receivers=%d, sent=%s, received=%s, ratio=%s, big=%d, small=%d, triggered=%s\n",
		m.Wallet, m.Fraudulent, m.MeanAmount.StringFixed(4), m.IntervalSeconds,
		m.UniqueSenders, m.UniqueReceivers, m.TotalSent.String(), m.TotalReceived.String(),
		ratio, m.BigCount, m.SmallCount, triggered)
}
