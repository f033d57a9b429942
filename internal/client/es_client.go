package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/elastic/go-elasticsearch/v8/esapi"
	"go.uber.org/zap"

	"gatekeeper-service/internal/config"
	"gatekeeper-service/internal/models"
	"gatekeeper-service/internal/util"
)

// ESClient indexes audit log entries so operators can search them by member,
// IP hash, or outcome.
type ESClient struct {
	Client *elasticsearch.Client
	config *config.ElasticsearchConfig
}

func NewElasticsearchClient(cfg *config.Config, logger *zap.Logger) (*ESClient, error) {
	esConfig := cfg.Elasticsearch

	elasticConfig := elasticsearch.Config{
		Addresses: []string{esConfig.URL},
		Username:  esConfig.Username,
		Password:  esConfig.Password,
	}

	client, err := elasticsearch.NewClient(elasticConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create Elasticsearch client: %w", err)
	}

	esClient := &ESClient{
		Client: client,
		config: &esConfig,
	}

	util.Info("Elasticsearch client initialized",
		zap.String("index", esConfig.AuditIndex))

	return esClient, nil
}

func (e *ESClient) HealthCheck() error {
	res, err := e.Client.Info()
	if err != nil {
		return fmt.Errorf("failed to get cluster info: %w", err)
	}
	defer res.Body.Close()

	if res.IsError() {
		return fmt.Errorf("elasticsearch error: %s", res.String())
	}
	return nil
}

// IndexAuditEntry writes one audit document, keyed by entry ID
func (e *ESClient) IndexAuditEntry(ctx context.Context, entry *models.AuditLogEntry) error {
	payload, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to marshal audit entry: %w", err)
	}

	req := esapi.IndexRequest{
		Index:      e.config.AuditIndex,
		DocumentID: entry.ID.String(),
		Body:       bytes.NewReader(payload),
	}

	res, err := req.Do(ctx, e.Client)
	if err != nil {
		return fmt.Errorf("failed to index audit entry: %w", err)
	}
	defer res.Body.Close()

	if res.IsError() {
		return fmt.Errorf("elasticsearch index error: %s", res.String())
	}
	return nil
}

// SearchAuditEntries runs a simple query-string search over the audit index
func (e *ESClient) SearchAuditEntries(ctx context.Context, query string, size int) ([]*models.AuditLogEntry, error) {
	if size <= 0 {
		size = 50
	}

	body := map[string]interface{}{
		"size": size,
		"sort": []map[string]interface{}{
			{"timestamp": map[string]string{"order": "desc"}},
		},
	}
	if strings.TrimSpace(query) == "" {
		body["query"] = map[string]interface{}{"match_all": map[string]interface{}{}}
	} else {
		body["query"] = map[string]interface{}{
			"query_string": map[string]interface{}{
				"query":  query,
				"fields": []string{"member_id", "username", "ip_hash", "outcome", "details"},
			},
		}
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal search body: %w", err)
	}

	res, err := e.Client.Search(
		e.Client.Search.WithContext(ctx),
		e.Client.Search.WithIndex(e.config.AuditIndex),
		e.Client.Search.WithBody(bytes.NewReader(payload)),
	)
	if err != nil {
		return nil, fmt.Errorf("audit search failed: %w", err)
	}
	defer res.Body.Close()

	if res.IsError() {
		return nil, fmt.Errorf("elasticsearch search error: %s", res.String())
	}

	raw, err := io.ReadAll(res.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read search response: %w", err)
	}

	var parsed struct {
		Hits struct {
			Hits []struct {
				Source models.AuditLogEntry `json:"_source"`
			} `json:"hits"`
		} `json:"hits"`
	}
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, fmt.Errorf("failed to decode search response: %w", err)
	}

	entries := make([]*models.AuditLogEntry, 0, len(parsed.Hits.Hits))
	for i := range parsed.Hits.Hits {
		entry := parsed.Hits.Hits[i].Source
		entries = append(entries, &entry)
	}
	return entries, nil
}

func (e *ESClient) Close() {
	util.Info("Elasticsearch client shutdown")
}
