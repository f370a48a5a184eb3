package bot

import (
	"context"
	"fmt"
	"html"
	"log/slog"
	"slices"
	"strconv"
	"strings"
	"time"

	"tola_ledger/internal/domain"
	"tola_ledger/internal/logger"
	"tola_ledger/internal/service"

	tgbot "github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
)

// Sender is the part of the Telegram client the admin bot uses.
type Sender interface {
	SendMessage(ctx context.Context, params *tgbot.SendMessageParams) (*models.Message, error)
}

// Services the bot commands operate on.
type Services struct {
	Ledger      *service.LedgerService
	Milestone   *service.MilestoneService
	Conversions *service.ConversionService
	Accounting  *service.AccountingService
}

// AdminBot answers admin commands over Telegram and posts milestone and
// settlement alerts to the admin chat.
type AdminBot struct {
	client   *tgbot.Bot
	sender   Sender
	svc      Services
	adminIDs []int64
	alertTo  int64
	log      *slog.Logger
}

// NewAdminBot creates a new admin bot
func NewAdminBot(token string, svc Services, adminIDs []int64, alertChat int64) (*AdminBot, error) {
	b := &AdminBot{
		svc:      svc,
		adminIDs: adminIDs,
		alertTo:  alertChat,
		log:      logger.With("component", "admin_bot"),
	}

	client, err := tgbot.New(token, tgbot.WithDefaultHandler(b.defaultHandler))
	if err != nil {
		return nil, fmt.Errorf("create bot: %w", err)
	}
	b.client = client
	b.sender = client
	return b, nil
}

// newWithSender builds a bot around an existing sender.
func newWithSender(sender Sender, svc Services, adminIDs []int64, alertChat int64) *AdminBot {
	return &AdminBot{
		sender:   sender,
		svc:      svc,
		adminIDs: adminIDs,
		alertTo:  alertChat,
		log:      logger.Discard(),
	}
}

// Start polls for updates until ctx is done.
func (b *AdminBot) Start(ctx context.Context) {
	if b.client == nil {
		return
	}
	b.log.Info("starting admin bot")
	b.client.Start(ctx)
	b.log.Info("admin bot stopped")
}

func (b *AdminBot) defaultHandler(ctx context.Context, _ *tgbot.Bot, update *models.Update) {
	msg := update.Message
	if msg == nil || msg.From == nil || !strings.HasPrefix(msg.Text, "/") {
		return
	}
	if !b.isAdmin(msg.From.ID) {
		return
	}

	cmdCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	b.send(cmdCtx, msg.Chat.ID, b.handleCommand(cmdCtx, msg.Text))
}

func (b *AdminBot) isAdmin(userID int64) bool {
	return slices.Contains(b.adminIDs, userID)
}

// handleCommand runs one command line and returns the HTML reply.
func (b *AdminBot) handleCommand(ctx context.Context, text string) string {
	fields := strings.Fields(text)
	if len(fields) == 0 {
		return b.helpMessage()
	}
	cmd := strings.TrimPrefix(fields[0], "/")
	if i := strings.IndexByte(cmd, '@'); i >= 0 {
		cmd = cmd[:i]
	}
	args := fields[1:]

	switch cmd {
	case "start", "help":
		return b.helpMessage()
	case "status":
		return b.handleStatus(ctx)
	case "wallet":
		return b.handleWallet(ctx, args)
	case "freeze":
		return b.handleSetActive(ctx, args, false)
	case "unfreeze":
		return b.handleSetActive(ctx, args, true)
	case "replay":
		return b.handleReplay(ctx, args)
	case "report":
		return b.handleReport(ctx, args)
	case "recover":
		return b.handleRecover(ctx)
	default:
		return "❌ Unknown command. Use /help for the list of commands."
	}
}

func (b *AdminBot) helpMessage() string {
	return `<b>🤖 Admin commands</b>

<b>📊 Overview:</b>
/status - Conversion gate and participants
/report [daily|monthly] [period] - Generate a report (default: yesterday)

<b>👛 Wallets:</b>
/wallet &lt;user_id&gt; - Balances and bound address
/freeze &lt;user_id&gt; - Deactivate a wallet
/unfreeze &lt;user_id&gt; - Reactivate a wallet
/replay &lt;user_id&gt; - Rebuild balances from the ledger

<b>🔁 Conversions:</b>
/recover - Finish conversions left pending`
}

func (b *AdminBot) handleStatus(ctx context.Context) string {
	st, err := b.svc.Milestone.State(ctx)
	if err != nil {
		return fmt.Sprintf("❌ Error: %v", err)
	}
	count, err := b.svc.Milestone.ParticipantCount(ctx)
	if err != nil {
		return fmt.Sprintf("❌ Error: %v", err)
	}

	status := "🔒 disabled"
	if st.Enabled() {
		status = "✅ enabled since " + st.EnabledAt.UTC().Format("02.01.2006 15:04")
	}
	return fmt.Sprintf(`<b>📊 Conversion gate</b>

• Status: %s
• Participants: %d / %d`, status, count, st.Threshold)
}

func (b *AdminBot) handleWallet(ctx context.Context, args []string) string {
	userID, errMsg := parseUserArg(args, "/wallet <user_id>")
	if errMsg != "" {
		return errMsg
	}
	w, err := b.svc.Ledger.GetWallet(ctx, userID)
	if err != nil {
		return fmt.Sprintf("❌ Error: %v", err)
	}
	addr := w.Address
	if addr == "" {
		addr = "not connected"
	}
	return fmt.Sprintf(`<b>👛 Wallet %d</b>

• Balance: %d TOLA
• Platform credits: %d TOLA
• Status: %s
• Address: <code>%s</code>`, w.UserID, w.Balance, w.PlatformCredits, w.Status, html.EscapeString(addr))
}

func (b *AdminBot) handleSetActive(ctx context.Context, args []string, active bool) string {
	usage := "/freeze <user_id>"
	if active {
		usage = "/unfreeze <user_id>"
	}
	userID, errMsg := parseUserArg(args, usage)
	if errMsg != "" {
		return errMsg
	}

	var err error
	if active {
		err = b.svc.Ledger.Activate(ctx, userID)
	} else {
		err = b.svc.Ledger.Deactivate(ctx, userID)
	}
	if err != nil {
		return fmt.Sprintf("❌ Error: %v", err)
	}
	b.log.Info("admin changed wallet status", "user_id", userID, "active", active)
	if active {
		return fmt.Sprintf("✅ Wallet %d reactivated", userID)
	}
	return fmt.Sprintf("🧊 Wallet %d deactivated", userID)
}

func (b *AdminBot) handleReplay(ctx context.Context, args []string) string {
	userID, errMsg := parseUserArg(args, "/replay <user_id>")
	if errMsg != "" {
		return errMsg
	}
	res, err := b.svc.Ledger.Replay(ctx, userID)
	if err != nil {
		return fmt.Sprintf("❌ Error: %v", err)
	}
	if !res.Repaired {
		return fmt.Sprintf("✅ Wallet %d matches its %d ledger entries", userID, res.Entries)
	}
	return fmt.Sprintf(`<b>🛠 Wallet %d repaired</b>

• Balance: %d → %d
• Platform credits: %d → %d`, userID,
		res.Stored.Balance, res.Replayed.Balance, res.Stored.PlatformCredits, res.Replayed.PlatformCredits)
}

func (b *AdminBot) handleReport(ctx context.Context, args []string) string {
	typ := domain.ReportDaily
	if len(args) > 0 {
		typ = domain.ReportType(args[0])
	}
	period := service.PreviousPeriod(typ, time.Now())
	if len(args) > 1 {
		period = args[1]
	}

	rep, err := b.svc.Accounting.GenerateReport(ctx, typ, period)
	if err != nil {
		return fmt.Sprintf("❌ Error: %v", err)
	}
	t := rep.Totals
	reconciled := "✅"
	if !rep.Reconciled {
		reconciled = "⚠️ mismatch"
	}
	return fmt.Sprintf(`<b>📒 %s report %s</b>

• Issued: %d TOLA in %d credits (%d users)
• Converted: %d TOLA in %d requests (%d users)
• Failed conversions: %d
• Fees: %s
• Paid out: %s
• Transfers: %d TOLA
• Reconciled: %s`, rep.Type, html.EscapeString(rep.Period),
		t.IssuedAmount, t.IssuedCount, t.DistinctEarners,
		t.ConvertedAmount, t.ConvertedCount, t.DistinctConverters,
		t.FailedConversions, t.FeesCollected.String(), t.PayoutTotal.String(),
		t.TransferVolume, reconciled)
}

func (b *AdminBot) handleRecover(ctx context.Context) string {
	stats, err := b.svc.Conversions.RecoverPending(ctx, 0)
	if err != nil {
		return fmt.Sprintf("❌ Error: %v", err)
	}
	return fmt.Sprintf("🔁 Pending conversions: %d scanned, %d completed, %d failed, %d errors",
		stats.Scanned, stats.Completed, stats.Failed, stats.Errors)
}

// OnConversionEnabled implements service.MilestoneNotifier
func (b *AdminBot) OnConversionEnabled(ctx context.Context, st domain.MilestoneState) error {
	if b.alertTo == 0 {
		return nil
	}
	return b.sendErr(ctx, b.alertTo, fmt.Sprintf(`<b>🎉 Conversion enabled</b>

%d qualified participants reached the threshold of %d.`, st.ObservedCount, st.Threshold))
}

// OnConversionFailed implements service.ConversionAlerter
func (b *AdminBot) OnConversionFailed(ctx context.Context, req domain.ConversionRequest) error {
	if b.alertTo == 0 {
		return nil
	}
	return b.sendErr(ctx, b.alertTo, fmt.Sprintf(`<b>⚠️ Settlement failed, debit reversed</b>

• Request: <code>%s</code>
• User: %d
• Amount: %d TOLA
• Reason: %s`, req.ID, req.UserID, req.Amount, html.EscapeString(req.FailureReason)))
}

func (b *AdminBot) send(ctx context.Context, chatID int64, text string) {
	if err := b.sendErr(ctx, chatID, text); err != nil {
		b.log.Error("send message", "chat_id", chatID, "error", err)
	}
}

func (b *AdminBot) sendErr(ctx context.Context, chatID int64, text string) error {
	_, err := b.sender.SendMessage(ctx, &tgbot.SendMessageParams{
		ChatID:    chatID,
		Text:      text,
		ParseMode: models.ParseModeHTML,
	})
	return err
}

func parseUserArg(args []string, usage string) (int64, string) {
	if len(args) != 1 {
		return 0, "❌ Usage: " + html.EscapeString(usage)
	}
	id, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil || id <= 0 {
		return 0, "❌ Invalid user id"
	}
	return id, ""
}
