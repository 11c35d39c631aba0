package loyalty

import (
	"context"
	"fmt"
	"os"
	"time"

	model "github.com/kh827y/loyalty/internal/models"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// Акции лежат в mongo: маркетинг правит документы напрямую,
// ядро читает только активные
type PromotionsDB struct {
	mgo  *mongo.Client
	coll *mongo.Collection
}

func NewPromotionsDB() (*PromotionsDB, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	mng := os.Getenv("LOYALTY_MONGO")
	if mng == "" {
		return nil, fmt.Errorf("env LOYALTY_MONGO is not set")
	}

	opts := options.Client().ApplyURI("mongodb://" + mng)
	client, err := mongo.Connect(ctx, opts)
	if err != nil {
		return nil, err
	}
	err = client.Ping(ctx, nil)
	if err != nil {
		return nil, err
	}
	coll := client.Database("loyaltyDB").Collection("promotions")

	return &PromotionsDB{client, coll}, nil
}

func (p *PromotionsDB) PromotionsActive(ctx context.Context, merchantID uuid.UUID) ([]model.Promotion, error) {
	filter := bson.M{"merchantId": merchantID, "status": "ACTIVE", "archived": false}
	result, err := p.coll.Find(ctx, filter)
	if err != nil {
		return nil, err
	}
	defer result.Close(ctx)

	var promotions []model.Promotion
	for result.Next(ctx) {
		var promo model.Promotion
		if err := result.Decode(&promo); err != nil {
			return nil, err
		}
		promotions = append(promotions, promo)
	}
	return promotions, result.Err()
}

func (p *PromotionsDB) Close(ctx context.Context) error {
	return p.mgo.Disconnect(ctx)
}
