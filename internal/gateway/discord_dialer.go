package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

// discordAPIBase/gatewayVersion mirror the predecessor's hardcoded API
// constants (fabric package) rather than a discovery client: the gateway
// URL rarely changes and this keeps the ingress path dependency-free of a
// full REST client.
const (
	discordAPIBase  = "https://discord.com/api/v10"
	gatewayVersion  = "10"
	gatewayEncoding = "json"
)

// DiscordDialer opens one gateway websocket per shard against Discord's
// real gateway endpoint, authenticating with the bot token (§4.1).
type DiscordDialer struct {
	token       string
	totalShards int
	httpClient  *http.Client
	gatewayURL  string
}

// NewDiscordDialer builds a Dialer. token is the bot token used both for
// the gateway identify payload and the REST call that resolves the
// websocket URL; totalShards is reported to Discord in each shard's
// identify payload.
func NewDiscordDialer(token string, totalShards int) *DiscordDialer {
	return &DiscordDialer{token: token, totalShards: totalShards, httpClient: &http.Client{Timeout: 10 * time.Second}}
}

type gatewayResponse struct {
	URL string `json:"url"`
}

// resolveGatewayURL fetches the wss:// endpoint once and caches it; Discord
// gateway URLs are stable for the lifetime of a process.
func (d *DiscordDialer) resolveGatewayURL(ctx context.Context) (string, error) {
	if d.gatewayURL != "" {
		return d.gatewayURL, nil
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, discordAPIBase+"/gateway/bot", nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("Authorization", "Bot "+d.token)
	resp, err := d.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("resolve gateway url: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("resolve gateway url: status %d", resp.StatusCode)
	}
	var gw gatewayResponse
	if err := json.NewDecoder(resp.Body).Decode(&gw); err != nil {
		return "", fmt.Errorf("decode gateway url response: %w", err)
	}
	d.gatewayURL = gw.URL
	return gw.URL, nil
}

// Dial implements Dialer, opening a shard connection and sending the
// identify payload Discord requires before any dispatch events arrive.
func (d *DiscordDialer) Dial(ctx context.Context, shardID uint16) (*websocket.Conn, error) {
	base, err := d.resolveGatewayURL(ctx)
	if err != nil {
		return nil, err
	}
	url := fmt.Sprintf("%s?v=%s&encoding=%s", base, gatewayVersion, gatewayEncoding)
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("dial gateway websocket: %w", err)
	}

	identify := map[string]any{
		"op": 2,
		"d": map[string]any{
			"token": d.token,
			"properties": map[string]string{
				"os":      "linux",
				"browser": "relaycord",
				"device":  "relaycord",
			},
			"shard": [2]int{int(shardID), d.totalShards},
		},
	}
	if err := conn.WriteJSON(identify); err != nil {
		conn.Close()
		return nil, fmt.Errorf("send identify: %w", err)
	}
	return conn, nil
}
