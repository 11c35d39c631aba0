package loyalty

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Виды промо-правил, порядок применения: цена -> подарки -> баллы
const (
	RuleFixedPrice       = "FIXED_PRICE"
	RuleNthFree          = "NTH_FREE"
	RulePointsMultiplier = "POINTS_MULTIPLIER"
)

// Типы бонусных баллов
const (
	PointsRuleMultiplier = "multiplier"
	PointsRulePercent    = "percent"
	PointsRuleFixed      = "fixed"
)

// Лимиты использования
const (
	UsageOncePerClient = "once_per_client"
	UsageOncePerDay    = "once_per_day"
	UsageOncePerWeek   = "once_per_week"
	UsageOncePerMonth  = "once_per_month"
)

// Документ акции, как хранится маркетингом
type Promotion struct {
	ID         uuid.UUID          `bson:"id" json:"id"`
	MerchantID uuid.UUID          `bson:"merchantId" json:"merchantId"`
	Status     string             `bson:"status" json:"status"`
	Archived   bool               `bson:"archived" json:"archived"`
	RewardType string             `bson:"rewardType" json:"rewardType"` // POINTS / DISCOUNT
	SegmentID  *uuid.UUID         `bson:"segmentId" json:"segmentId"`
	UsageLimit string             `bson:"usageLimit" json:"usageLimit"`
	StartAt    *time.Time         `bson:"startAt" json:"startAt"`
	EndAt      *time.Time         `bson:"endAt" json:"endAt"`
	Metadata   PromotionMetadata  `bson:"metadata" json:"metadata"`
}

// Сырые метаданные эффекта, разбираются один раз при загрузке
type PromotionMetadata struct {
	Kind           string      `bson:"kind" json:"kind"`
	Price          *int64      `bson:"price" json:"price"`
	BuyQty         int32       `bson:"buyQty" json:"buyQty"`
	FreeQty        int32       `bson:"freeQty" json:"freeQty"`
	PointsRuleType string      `bson:"pointsRuleType" json:"pointsRuleType"`
	PointsValue    int64       `bson:"pointsValue" json:"pointsValue"`
	ProductIDs     []uuid.UUID `bson:"productIds" json:"productIds"`
	CategoryIDs    []uuid.UUID `bson:"categoryIds" json:"categoryIds"`
}

// Эффект акции после валидации
type PromotionEffect interface {
	Priority() int
}

type FixedPrice struct {
	Price int64
}

type NthFree struct {
	BuyQty  int32
	FreeQty int32
}

type PointsMultiplier struct {
	RuleType string
	Value    int64
}

func (FixedPrice) Priority() int       { return 1 }
func (NthFree) Priority() int          { return 2 }
func (PointsMultiplier) Priority() int { return 3 }

// Нормализованное активное правило
type ActivePromotionRule struct {
	ID          uuid.UUID
	SegmentID   *uuid.UUID
	UsageLimit  string
	Effect      PromotionEffect
	ProductIDs  []uuid.UUID
	CategoryIDs []uuid.UUID
}

// Применимость правила к позиции
func (r *ActivePromotionRule) Matches(productID *uuid.UUID, categoryID *uuid.UUID) bool {
	if len(r.ProductIDs) == 0 && len(r.CategoryIDs) == 0 {
		_, fixed := r.Effect.(FixedPrice)
		_, nth := r.Effect.(NthFree)
		// скидочные акции без целей действуют на весь чек
		return fixed || nth
	}
	if productID != nil {
		for _, id := range r.ProductIDs {
			if id == *productID {
				return true
			}
		}
	}
	if categoryID != nil {
		for _, id := range r.CategoryIDs {
			if id == *categoryID {
				return true
			}
		}
	}
	return false
}

// Разбор документа в правило, nil - акция не подходит под движок
func DecodePromotion(p Promotion, now time.Time) (*ActivePromotionRule, error) {
	if p.Status != "ACTIVE" || p.Archived {
		return nil, nil
	}
	if p.StartAt != nil && now.Before(*p.StartAt) {
		return nil, nil
	}
	if p.EndAt != nil && now.After(*p.EndAt) {
		return nil, nil
	}

	rule := &ActivePromotionRule{
		ID:          p.ID,
		SegmentID:   p.SegmentID,
		UsageLimit:  p.UsageLimit,
		ProductIDs:  p.Metadata.ProductIDs,
		CategoryIDs: p.Metadata.CategoryIDs,
	}

	switch p.RewardType {
	case "POINTS":
		// глобальные множители без целей не поддерживаются
		if len(p.Metadata.ProductIDs) == 0 && len(p.Metadata.CategoryIDs) == 0 {
			return nil, nil
		}
		switch p.Metadata.PointsRuleType {
		case PointsRuleMultiplier, PointsRulePercent, PointsRuleFixed:
		default:
			return nil, nil
		}
		if p.Metadata.PointsValue <= 0 {
			return nil, nil
		}
		rule.Effect = PointsMultiplier{RuleType: p.Metadata.PointsRuleType, Value: p.Metadata.PointsValue}
	case "DISCOUNT":
		switch p.Metadata.Kind {
		case RuleNthFree:
			if p.Metadata.BuyQty <= 0 {
				return nil, nil
			}
			free := p.Metadata.FreeQty
			if free <= 0 {
				free = 1
			}
			rule.Effect = NthFree{BuyQty: p.Metadata.BuyQty, FreeQty: free}
		case RuleFixedPrice:
			if p.Metadata.Price == nil || *p.Metadata.Price < 0 {
				return nil, nil
			}
			rule.Effect = FixedPrice{Price: *p.Metadata.Price}
		default:
			return nil, nil
		}
	default:
		return nil, fmt.Errorf("promotion %s: unknown reward type %q", p.ID, p.RewardType)
	}
	return rule, nil
}
