// Package es 提供了与 Elasticsearch 向量索引交互的客户端功能。
package es

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"fundchat-go/internal/config"
	"fundchat-go/internal/model"
	"fundchat-go/pkg/log"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/elastic/go-elasticsearch/v8/esapi"
)

// Index 封装了一个 Elasticsearch 客户端与分块索引名。
// 句柄由 main 构造后注入使用方，不暴露包级全局变量。
type Index struct {
	client    *elasticsearch.Client
	indexName string
}

// New 初始化 Elasticsearch 客户端并确保分块索引存在。
// dims 为向量维度，需与 Embedding 模型输出一致。
func New(esCfg config.ElasticsearchConfig, dims int) (*Index, error) {
	cfg := elasticsearch.Config{
		Addresses: []string{esCfg.Addresses},
		Username:  esCfg.Username,
		Password:  esCfg.Password,
		Transport: &http.Transport{
			TLSClientConfig: &tls.Config{InsecureSkipVerify: true},
		},
	}
	client, err := elasticsearch.NewClient(cfg)
	if err != nil {
		return nil, err
	}
	idx := &Index{client: client, indexName: esCfg.FullIndexName()}
	if err := idx.createIndexIfNotExists(dims); err != nil {
		return nil, err
	}
	return idx, nil
}

// createIndexIfNotExists 检查索引是否存在，如果不存在则按分块结构创建它。
func (x *Index) createIndexIfNotExists(dims int) error {
	res, err := x.client.Indices.Exists([]string{x.indexName})
	if err != nil {
		log.Errorf("检查索引是否存在时出错: %v", err)
		return err
	}
	if !res.IsError() && res.StatusCode == http.StatusOK {
		log.Infof("索引 '%s' 已存在", x.indexName)
		return nil
	}
	if res.StatusCode != http.StatusNotFound {
		log.Errorf("检查索引 '%s' 是否存在时收到意外的状态码: %d", x.indexName, res.StatusCode)
		return fmt.Errorf("检查索引是否存在时收到意外的状态码: %d", res.StatusCode)
	}

	// 分块文档结构：向量用 cosine 相似度，元数据字段全部为精确匹配类型
	mapping := fmt.Sprintf(`{
		"mappings": {
			"properties": {
				"chunk_id": { "type": "keyword" },
				"doc_id": { "type": "keyword" },
				"fund_id": { "type": "keyword" },
				"text_content": { "type": "text" },
				"vector": {
					"type": "dense_vector",
					"dims": %d,
					"index": true,
					"similarity": "cosine"
				},
				"file_name": { "type": "keyword" },
				"file_type": { "type": "keyword" },
				"chunk_num": { "type": "integer" },
				"chunk_count": { "type": "integer" },
				"model_version": { "type": "keyword" },
				"created_at": { "type": "date" }
			}
		}
	}`, dims)

	res, err = x.client.Indices.Create(
		x.indexName,
		x.client.Indices.Create.WithBody(strings.NewReader(mapping)),
	)
	if err != nil {
		log.Errorf("创建索引 '%s' 失败: %v", x.indexName, err)
		return err
	}
	if res.IsError() {
		log.Errorf("创建索引 '%s' 时 Elasticsearch 返回错误: %s", x.indexName, res.String())
		return errors.New("创建索引时 Elasticsearch 返回错误")
	}

	log.Infof("索引 '%s' 创建成功", x.indexName)
	return nil
}

// UpsertChunk 将单个分块写入索引，chunk_id 作为文档主键，重复写入覆盖。
func (x *Index) UpsertChunk(ctx context.Context, chunk model.Chunk) error {
	docBytes, err := json.Marshal(chunk)
	if err != nil {
		return err
	}

	req := esapi.IndexRequest{
		Index:      x.indexName,
		DocumentID: chunk.ChunkID,
		Body:       bytes.NewReader(docBytes),
		Refresh:    "true",
	}

	res, err := req.Do(ctx, x.client)
	if err != nil {
		return err
	}
	defer res.Body.Close()

	if res.IsError() {
		log.Errorf("索引分块到 Elasticsearch 出错: %s", res.String())
		return errors.New("failed to index chunk")
	}
	return nil
}

// Search 以 kNN 方式检索最相近的分块。
// fundID 非空时限定在该基金范围内，docIDs 非空时进一步限定文档集合。
func (x *Index) Search(ctx context.Context, vector []float32, topK int, fundID string, docIDs []string) ([]model.ChunkHit, error) {
	knn := map[string]interface{}{
		"field":          "vector",
		"query_vector":   vector,
		"k":              topK,
		"num_candidates": topK * 10,
	}
	if filter := buildFilter(fundID, docIDs); len(filter) > 0 {
		knn["filter"] = map[string]interface{}{
			"bool": map[string]interface{}{"filter": filter},
		}
	}
	esQuery := map[string]interface{}{
		"knn":  knn,
		"size": topK,
	}

	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(esQuery); err != nil {
		return nil, fmt.Errorf("failed to encode es query: %w", err)
	}

	res, err := x.client.Search(
		x.client.Search.WithContext(ctx),
		x.client.Search.WithIndex(x.indexName),
		x.client.Search.WithBody(&buf),
	)
	if err != nil {
		return nil, fmt.Errorf("elasticsearch search failed: %w", err)
	}
	defer res.Body.Close()

	if res.IsError() {
		return nil, fmt.Errorf("elasticsearch returned an error: %s", res.String())
	}

	var esResponse struct {
		Hits struct {
			Hits []struct {
				Source model.Chunk `json:"_source"`
				Score  float64     `json:"_score"`
			} `json:"hits"`
		} `json:"hits"`
	}
	if err := json.NewDecoder(res.Body).Decode(&esResponse); err != nil {
		return nil, fmt.Errorf("failed to decode es response: %w", err)
	}

	hits := make([]model.ChunkHit, 0, len(esResponse.Hits.Hits))
	for _, h := range esResponse.Hits.Hits {
		hits = append(hits, model.ChunkHit{Chunk: h.Source, Score: h.Score})
	}
	return hits, nil
}

// buildFilter 组装 kNN 的 term/terms 过滤子句。
func buildFilter(fundID string, docIDs []string) []map[string]interface{} {
	var filter []map[string]interface{}
	if fundID != "" {
		filter = append(filter, map[string]interface{}{
			"term": map[string]interface{}{"fund_id": fundID},
		})
	}
	if len(docIDs) > 0 {
		filter = append(filter, map[string]interface{}{
			"terms": map[string]interface{}{"doc_id": docIDs},
		})
	}
	return filter
}

// DeleteByDoc 删除某个文档的全部分块，用于摄取中途失败后的补偿清理。
func (x *Index) DeleteByDoc(ctx context.Context, docID string) error {
	return x.deleteByTerm(ctx, "doc_id", docID)
}

// DeleteByFund 删除某个基金的全部分块，用于基金删除时的向量清理。
func (x *Index) DeleteByFund(ctx context.Context, fundID string) error {
	return x.deleteByTerm(ctx, "fund_id", fundID)
}

func (x *Index) deleteByTerm(ctx context.Context, field, value string) error {
	query := fmt.Sprintf(`{"query":{"term":{"%s":%q}}}`, field, value)
	refresh := true
	req := esapi.DeleteByQueryRequest{
		Index:   []string{x.indexName},
		Body:    strings.NewReader(query),
		Refresh: &refresh,
	}
	res, err := req.Do(ctx, x.client)
	if err != nil {
		return err
	}
	defer res.Body.Close()

	if res.IsError() {
		log.Errorf("按 %s=%s 删除分块出错: %s", field, value, res.String())
		return errors.New("failed to delete chunks")
	}
	return nil
}

// Ping 检查 Elasticsearch 集群是否可达。
func (x *Index) Ping(ctx context.Context) error {
	res, err := x.client.Info(x.client.Info.WithContext(ctx))
	if err != nil {
		return err
	}
	defer res.Body.Close()
	if res.IsError() {
		return fmt.Errorf("elasticsearch info returned an error: %s", res.Status())
	}
	return nil
}
