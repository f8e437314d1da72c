package mongo

import (
	"go.mongodb.org/mongo-driver/v2/bson"
	mongod "go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/embedpop/embedpop/pkg/constants"
	"github.com/embedpop/embedpop/pkg/models"
	"github.com/embedpop/embedpop/pkg/store"
)

// Pipeline builds the aggregation used to read documents with lookups.
// A limit of zero means no limit.
func Pipeline(filter bson.D, lookups []store.Lookup, limit int64) mongod.Pipeline {
	pipeline := mongod.Pipeline{
		{{Key: "$match", Value: filter}},
	}
	if limit > 0 {
		pipeline = append(pipeline, bson.D{{Key: "$limit", Value: limit}})
	}
	for _, l := range lookups {
		pipeline = append(pipeline, bson.D{{Key: "$lookup", Value: bson.D{
			{Key: "from", Value: l.From},
			{Key: "localField", Value: l.Path},
			{Key: "foreignField", Value: constants.PrimaryKeyField},
			{Key: "as", Value: l.Path},
		}}})
	}
	return pipeline
}

// IndexModels converts declared indexes into driver index models.
func IndexModels(meta *models.Metadata) []mongod.IndexModel {
	out := make([]mongod.IndexModel, 0, len(meta.Indexes))
	for _, idx := range meta.Indexes {
		keys := bson.D{}
		for _, key := range idx.Keys {
			field, dir := models.KeyOrder(key)
			keys = append(keys, bson.E{Key: field, Value: dir})
		}

		opts := options.Index()
		if idx.Name != "" {
			opts.SetName(idx.Name)
		}
		if idx.Unique {
			opts.SetUnique(true)
		}
		out = append(out, mongod.IndexModel{Keys: keys, Options: opts})
	}
	return out
}
