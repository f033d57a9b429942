package ipcheck

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"gatekeeper-service/internal/config"
	"gatekeeper-service/internal/util"
)

// Reputation summarizes what the reputation services said about an address
type Reputation struct {
	IP             string `json:"ip"`
	IsVPN          bool   `json:"is_vpn"`
	IsPrivate      bool   `json:"is_private"`
	RiskLevel      string `json:"risk_level"`
	Recommendation string `json:"recommendation"`
}

var vpnOrgKeywords = []string{"vpn", "proxy", "hosting", "datacenter", "tor", "anonymous"}

// Checker queries VPN/proxy reputation services. Every lookup is bounded by a
// short timeout; a failed lookup is treated as "not a VPN" rather than
// blocking verification on a third-party outage.
type Checker struct {
	httpClient      *http.Client
	qualityScoreKey string

	qualityScoreBaseURL string
	ipapiBaseURL        string
}

func NewChecker(cfg *config.IPCheckConfig) *Checker {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Checker{
		httpClient:          &http.Client{Timeout: timeout},
		qualityScoreKey:     cfg.QualityScoreKey,
		qualityScoreBaseURL: "https://www.ipqualityscore.com",
		ipapiBaseURL:        "https://ipapi.co",
	}
}

// Check resolves the address's reputation. Private and loopback addresses
// never reach the external services.
func (c *Checker) Check(ctx context.Context, ip string) Reputation {
	if util.IsPrivateIP(ip) {
		return Reputation{IP: ip, IsPrivate: true, RiskLevel: "low", Recommendation: "allow"}
	}

	isVPN := c.checkQualityScore(ctx, ip) || c.checkIPAPI(ctx, ip)

	rep := Reputation{IP: ip, IsVPN: isVPN, RiskLevel: "medium", Recommendation: "allow"}
	if isVPN {
		rep.RiskLevel = "high"
		rep.Recommendation = "block"
	}
	return rep
}

type qualityScoreResponse struct {
	VPN   bool `json:"vpn"`
	Proxy bool `json:"proxy"`
	Tor   bool `json:"tor"`
}

func (c *Checker) checkQualityScore(ctx context.Context, ip string) bool {
	if c.qualityScoreKey == "" {
		return false
	}

	url := fmt.Sprintf("%s/api/json/ip/%s/%s?strictness=1", c.qualityScoreBaseURL, c.qualityScoreKey, ip)
	var parsed qualityScoreResponse
	if !c.fetchJSON(ctx, url, &parsed) {
		return false
	}
	return parsed.VPN || parsed.Proxy || parsed.Tor
}

type ipapiResponse struct {
	Org   string `json:"org"`
	Proxy bool   `json:"proxy"`
	VPN   bool   `json:"vpn"`
	Tor   bool   `json:"tor"`
}

func (c *Checker) checkIPAPI(ctx context.Context, ip string) bool {
	var parsed ipapiResponse
	if !c.fetchJSON(ctx, fmt.Sprintf("%s/%s/json/", c.ipapiBaseURL, ip), &parsed) {
		return false
	}
	if parsed.Proxy || parsed.VPN || parsed.Tor {
		return true
	}

	org := strings.ToLower(parsed.Org)
	for _, keyword := range vpnOrgKeywords {
		if strings.Contains(org, keyword) {
			return true
		}
	}
	return false
}

func (c *Checker) fetchJSON(ctx context.Context, url string, out interface{}) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return false
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		util.Warn("IP reputation lookup failed", zap.Error(err))
		return false
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return false
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		util.Warn("IP reputation response decode failed", zap.Error(err))
		return false
	}
	return true
}
