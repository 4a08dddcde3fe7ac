package controller

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	gocache "github.com/patrickmn/go-cache"

	"github.com/llmux/llmux/common/helper"
	"github.com/llmux/llmux/common/redis"
	"github.com/llmux/llmux/relay/model"
	"github.com/llmux/llmux/relay/routing"
)

// modelListTTL bounds how long a key's reachable-model set is served from
// cache before routing recomputes it.
const modelListTTL = 5 * time.Minute

var modelListCache = gocache.New(modelListTTL, 10*time.Minute)

// OpenAIModel is one entry of the /v1/models listing.
type OpenAIModel struct {
	Id      string `json:"id"`
	Object  string `json:"object"`
	Created int64  `json:"created"`
	OwnedBy string `json:"owned_by"`
}

// OpenAIModelList is the OpenAI-shaped model listing envelope.
type OpenAIModelList struct {
	Object string        `json:"object"`
	Data   []OpenAIModel `json:"data"`
}

// ListModels answers GET /v1/models with the aliases the caller's key can
// reach, after group filtering and aggregator expansion.
func ListModels(c *gin.Context) {
	names := cachedModelNames(c)
	list := OpenAIModelList{Object: "list", Data: make([]OpenAIModel, 0, len(names))}
	created := helper.GetTimestamp()
	for _, name := range names {
		list.Data = append(list.Data, OpenAIModel{
			Id:      name,
			Object:  "model",
			Created: created,
			OwnedBy: "llmux",
		})
	}
	c.JSON(http.StatusOK, list)
}

// RetrieveModel answers GET /v1/models/:model.
func RetrieveModel(c *gin.Context) {
	name := c.Param("model")
	for _, candidate := range cachedModelNames(c) {
		if candidate == name {
			c.JSON(http.StatusOK, OpenAIModel{
				Id:      name,
				Object:  "model",
				Created: helper.GetTimestamp(),
				OwnedBy: "llmux",
			})
			return
		}
	}
	c.JSON(http.StatusNotFound, gin.H{
		"error": model.Error{
			Message: "model " + name + " not found or not accessible with this key",
			Type:    "invalid_request_error",
			Code:    "model_not_found",
		},
	})
}

// cachedModelNames resolves the caller's reachable aliases through the
// model-list cache, shared via redis when configured so aggregator fan-out
// across instances stays consistent.
func cachedModelNames(c *gin.Context) []string {
	snap := snapshotFromContext(c)
	key, keyIndex := keyFromContext(c)
	if snap == nil || key == nil {
		return nil
	}

	cacheKey := "model_list\x1f" + key.Key
	if cached, ok := modelListCache.Get(cacheKey); ok {
		if names, ok := cached.([]string); ok {
			return names
		}
	}
	if redis.Enabled() {
		if raw, err := redis.RDB.Get(c.Request.Context(), cacheKey).Bytes(); err == nil {
			var names []string
			if json.Unmarshal(raw, &names) == nil {
				modelListCache.Set(cacheKey, names, gocache.DefaultExpiration)
				return names
			}
		}
	}

	names := routing.AvailableModels(snap, keyIndex)
	modelListCache.Set(cacheKey, names, gocache.DefaultExpiration)
	if redis.Enabled() {
		if raw, err := json.Marshal(names); err == nil {
			redis.RDB.Set(c.Request.Context(), cacheKey, raw, modelListTTL)
		}
	}
	return names
}

// FlushModelListCache drops cached listings, called on config reload.
func FlushModelListCache() {
	modelListCache.Flush()
}
