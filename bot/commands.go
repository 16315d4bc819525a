package bot

import (
	"fmt"
	"slices"
	"sort"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/web3guy0/perpdesk/internal/database"
	"github.com/web3guy0/perpdesk/internal/route"
	"github.com/web3guy0/perpdesk/internal/store"
	"github.com/web3guy0/perpdesk/types"
)

// Navigator is the router the commands drive
type Navigator interface {
	Location() string
	MarketID() string
	Navigate(path string, opts route.NavigateOptions)
	Back() bool
}

// StateStore is the part of the store the commands read and write
type StateStore interface {
	State() store.State
	Dispatch(a store.Action)
}

// Settings is the persisted key/value store
type Settings interface {
	Settings() (map[string]string, error)
	Delete(key string) error
}

// Commands implements the chat commands independently of the transport
type Commands struct {
	router   Navigator
	store    StateStore
	settings Settings
	networks []string
}

// NewCommands creates the command set. networks lists the selectable networks.
func NewCommands(router Navigator, st StateStore, settings Settings, networks []string) *Commands {
	return &Commands{router: router, store: st, settings: settings, networks: networks}
}

// Execute runs one command and returns the reply text
func (c *Commands) Execute(cmd, args string) string {
	args = strings.TrimSpace(args)

	switch strings.ToLower(cmd) {
	case "start", "help":
		return c.cmdHelp()
	case "markets":
		return c.cmdMarkets()
	case "market", "trade":
		return c.cmdMarket(args)
	case "current":
		return c.cmdCurrent()
	case "positions":
		return c.cmdPositions()
	case "close":
		return c.cmdClose(args)
	case "dialog":
		return c.cmdDialog()
	case "dismiss":
		c.store.Dispatch(store.CloseDialogInTradeBox{})
		return "✖️ Dialog closed"
	case "network":
		return c.cmdNetwork(args)
	case "settings":
		return c.cmdSettings()
	case "forget":
		if err := c.settings.Delete(database.LastViewedMarket); err != nil {
			log.Error().Err(err).Msg("Failed to forget last viewed market")
			return "❌ " + err.Error()
		}
		return "🧹 Last viewed market forgotten"
	case "back":
		if !c.router.Back() {
			return "⏮️ Already at the first page"
		}
		return "⏪ " + c.router.Location()
	case "ping":
		return "🏓 Pong!"
	default:
		return "❓ Unknown command. Use /help"
	}
}

func (c *Commands) cmdHelp() string {
	return `🤖 PERPDESK COMMANDS
━━━━━━━━━━━━━━━━━━━━

📊 /markets — Known markets
📈 /market <ID> — Open a market
🎯 /current — Current market
💼 /positions — Open positions
🧾 /close <ID> — Close position dialog
🪟 /dialog — Active dialog
✖️ /dismiss — Close the dialog
🌐 /network <name> — Switch network
⚙️ /settings — Stored settings
🧹 /forget — Forget last viewed market
⏪ /back — Previous page
🏓 /ping — Test connection`
}

func (c *Commands) cmdMarkets() string {
	st := c.store.State()
	if !st.MarketsDefined {
		return "⏳ Markets not loaded yet"
	}
	ids := st.MarketIDs()
	if len(ids) == 0 {
		return "📭 No tradeable markets"
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "📊 %d markets\n", len(ids))
	for _, id := range ids {
		m := st.Markets[id]
		marker := "  "
		if id == st.CurrentMarketID {
			marker = "▶️"
		}
		fmt.Fprintf(&sb, "%s %s  $%s\n", marker, id, m.OraclePrice.String())
	}
	return strings.TrimRight(sb.String(), "\n")
}

func (c *Commands) cmdMarket(args string) string {
	if args == "" {
		return "Usage: /market <ID>, e.g. /market BTC-USD"
	}
	id := strings.ToUpper(args)

	c.router.Navigate(route.TradePath(id), route.NavigateOptions{})

	switch loc := c.router.Location(); {
	case loc == route.Markets:
		return fmt.Sprintf("❌ %s is not tradeable", id)
	case c.router.MarketID() != id:
		return fmt.Sprintf("↪️ Redirected to %s", c.router.MarketID())
	default:
		return "📈 Now viewing " + id
	}
}

func (c *Commands) cmdCurrent() string {
	st := c.store.State()
	if st.CurrentMarketID == "" {
		return "🎯 No market selected"
	}
	reply := fmt.Sprintf("🎯 %s on %s\n📍 %s", st.CurrentMarketID, st.SelectedNetwork, c.router.Location())
	if m, ok := st.CurrentMarket(); ok {
		reply += fmt.Sprintf("\n💵 Oracle $%s (%s)", m.OraclePrice.String(), m.Status)
	}
	return reply
}

func (c *Commands) cmdPositions() string {
	positions := c.store.State().OpenPositions
	if len(positions) == 0 {
		return "💼 No open positions"
	}

	var sb strings.Builder
	sb.WriteString("💼 Open positions\n")
	for _, p := range positions {
		fmt.Fprintf(&sb, "%s %s %s @ $%s\n", p.ID, p.Side, p.Size.Abs().String(), p.EntryPrice.String())
	}
	return strings.TrimRight(sb.String(), "\n")
}

// cmdClose opens the close-position dialog and moves to the position's market,
// the dialog survives the market switch while the position is open
func (c *Commands) cmdClose(args string) string {
	if args == "" {
		return "Usage: /close <ID>"
	}
	id := strings.ToUpper(args)
	if !c.store.State().HasOpenPosition(id) {
		return fmt.Sprintf("❌ No open position on %s", id)
	}

	dialog := types.Dialog{
		ID:      uuid.NewString(),
		Type:    types.DialogClosePosition,
		Payload: map[string]string{"marketId": id},
	}
	c.store.Dispatch(store.OpenDialogInTradeBox{Dialog: dialog})
	if c.router.MarketID() != id {
		c.router.Navigate(route.TradePath(id), route.NavigateOptions{})
	}

	log.Info().Str("dialog", dialog.ID).Str("market", id).Msg("🧾 Close position dialog opened")
	return fmt.Sprintf("🧾 Closing %s — confirm in the trade box", id)
}

func (c *Commands) cmdDialog() string {
	d := c.store.State().ActiveTradeBoxDialog()
	if d == nil {
		return "🪟 No dialog open"
	}
	if m := d.Payload["marketId"]; m != "" {
		return fmt.Sprintf("🪟 %s (%s)", d.Type, m)
	}
	return fmt.Sprintf("🪟 %s", d.Type)
}

func (c *Commands) cmdSettings() string {
	values, err := c.settings.Settings()
	if err != nil {
		log.Error().Err(err).Msg("Failed to read settings")
		return "❌ " + err.Error()
	}
	if len(values) == 0 {
		return "⚙️ No stored settings"
	}

	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var sb strings.Builder
	sb.WriteString("⚙️ Settings\n")
	for _, k := range keys {
		fmt.Fprintf(&sb, "%s = %s\n", k, values[k])
	}
	return strings.TrimRight(sb.String(), "\n")
}

func (c *Commands) cmdNetwork(args string) string {
	current := c.store.State().SelectedNetwork
	if args == "" {
		return fmt.Sprintf("🌐 %s (available: %s)", current, strings.Join(c.networks, ", "))
	}
	name := strings.ToLower(args)
	if !slices.Contains(c.networks, name) {
		return fmt.Sprintf("❌ Unknown network %s", name)
	}
	if name == current {
		return "🌐 Already on " + name
	}
	c.store.Dispatch(store.SetSelectedNetwork{Network: name})
	return "🌐 Switched to " + name
}
