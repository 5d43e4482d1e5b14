// Package pricing считает стоимость коммерческого предложения по выбранным услугам и дополнениям.
package pricing

import (
	"errors"
	"fmt"
	"math"

	"github.com/brightlane/portal/internal/app/ds"
)

var (
	ErrEmptySelection   = errors.New("не выбрано ни одной услуги")
	ErrDuplicateService = errors.New("услуга выбрана повторно")
	ErrNegativePrice    = errors.New("цена не может быть отрицательной")
	ErrForeignAddOn     = errors.New("дополнение не относится к услуге")
)

// Selection - одна выбранная услуга. CustomPrice перекрывает базовую цену.
type Selection struct {
	Service     ds.Service
	CustomPrice *int64
	AddOns      []ds.ServiceAddOn
}

type AddOnLine struct {
	AddOnID uint   `json:"add_on_id"`
	Name    string `json:"name"`
	Price   int64  `json:"price"`
}

type Line struct {
	ServiceID uint        `json:"service_id"`
	Name      string      `json:"name"`
	Price     int64       `json:"price"`
	AddOns    []AddOnLine `json:"add_ons,omitempty"`
	Subtotal  int64       `json:"subtotal"`
}

// Breakdown сохраняется в project.metadata.quote
type Breakdown struct {
	Lines []Line `json:"lines"`
	Total int64  `json:"total"`
}

// ServicePrice - цена услуги в КП: своя цена или базовая
func ServicePrice(s Selection) int64 {
	if s.CustomPrice != nil {
		return *s.CustomPrice
	}
	return s.Service.BasePrice
}

// AddOnPrice возвращает итоговую цену дополнения в центах относительно цены услуги.
func AddOnPrice(addOn ds.ServiceAddOn, servicePrice int64) (int64, error) {
	switch addOn.PricingType {
	case ds.AddOnPricingPercentage:
		if addOn.Percentage < 0 {
			return 0, fmt.Errorf("%w: %s", ErrNegativePrice, addOn.Name)
		}
		return int64(math.Round(float64(servicePrice) * addOn.Percentage / 100)), nil
	default:
		if addOn.Price < 0 {
			return 0, fmt.Errorf("%w: %s", ErrNegativePrice, addOn.Name)
		}
		return addOn.Price, nil
	}
}

// Quote считает итог. Повторное дополнение в рамках одной услуги учитывается один раз.
func Quote(selections []Selection) (Breakdown, error) {
	if len(selections) == 0 {
		return Breakdown{}, ErrEmptySelection
	}

	breakdown := Breakdown{Lines: make([]Line, 0, len(selections))}
	seenServices := make(map[uint]bool, len(selections))

	for _, sel := range selections {
		if seenServices[sel.Service.ID] {
			return Breakdown{}, fmt.Errorf("%w: %s", ErrDuplicateService, sel.Service.Name)
		}
		seenServices[sel.Service.ID] = true

		price := ServicePrice(sel)
		if price < 0 {
			return Breakdown{}, fmt.Errorf("%w: %s", ErrNegativePrice, sel.Service.Name)
		}

		line := Line{
			ServiceID: sel.Service.ID,
			Name:      sel.Service.Name,
			Price:     price,
			Subtotal:  price,
		}

		seenAddOns := make(map[uint]bool, len(sel.AddOns))
		for _, addOn := range sel.AddOns {
			if addOn.ServiceID != sel.Service.ID {
				return Breakdown{}, fmt.Errorf("%w: %s", ErrForeignAddOn, addOn.Name)
			}
			if seenAddOns[addOn.ID] {
				continue
			}
			seenAddOns[addOn.ID] = true

			addOnPrice, err := AddOnPrice(addOn, price)
			if err != nil {
				return Breakdown{}, err
			}
			line.AddOns = append(line.AddOns, AddOnLine{AddOnID: addOn.ID, Name: addOn.Name, Price: addOnPrice})
			line.Subtotal += addOnPrice
		}

		breakdown.Lines = append(breakdown.Lines, line)
		breakdown.Total += line.Subtotal
	}

	return breakdown, nil
}
