package service

import (
	processordomain "github.com/accordbilling/accord/internal/processor/domain"
)

// ItemSpec is one subscription line implied by a customer product
// being added or removed.
type ItemSpec struct {
	ProcessorPriceID string
	// Quantity is nil for metered prices.
	Quantity *int64
	// Consumable prices are pooled across customer products: adding a
	// second reference must not double the line, and removing one
	// reference must not drop the line while others remain.
	Consumable bool
}

type targetEntry struct {
	itemID   string
	quantity *int64
}

// ReconcileItems diffs the processor's current item set against the
// target implied by the products being added and removed, and returns
// the minimal add/update/delete list. remainingRefs counts, per
// processor price id, the customer products still referencing the
// price after the removals take effect.
//
// The function is pure and idempotent: with an unchanged target the
// diff is empty.
func ReconcileItems(current []processordomain.SubscriptionItem, toAdd, toRemove []ItemSpec, remainingRefs map[string]int) []processordomain.ItemChange {
	target := map[string]*targetEntry{}
	order := make([]string, 0, len(current)+len(toAdd))

	// 1. Seed from current items. Regular items keep their quantity;
	// metered items are tracked with none.
	for _, item := range current {
		entry := &targetEntry{itemID: item.ID}
		if item.Quantity != nil {
			q := *item.Quantity
			entry.quantity = &q
		}
		target[item.PriceID] = entry
		order = append(order, item.PriceID)
	}

	// 2. Apply adds. A consumable price already present is skipped so
	// the pooled line is never double counted.
	for _, spec := range toAdd {
		entry, ok := target[spec.ProcessorPriceID]
		if ok {
			if spec.Consumable {
				continue
			}
			if entry.quantity != nil && spec.Quantity != nil {
				*entry.quantity += *spec.Quantity
			}
			continue
		}
		fresh := &targetEntry{}
		if spec.Quantity != nil {
			q := *spec.Quantity
			fresh.quantity = &q
		}
		target[spec.ProcessorPriceID] = fresh
		order = append(order, spec.ProcessorPriceID)
	}

	// 3. Apply removes. A consumable price survives while any other
	// customer product still references it.
	for _, spec := range toRemove {
		entry, ok := target[spec.ProcessorPriceID]
		if !ok {
			continue
		}
		if spec.Consumable {
			if remainingRefs[spec.ProcessorPriceID] > 0 {
				continue
			}
			delete(target, spec.ProcessorPriceID)
			continue
		}
		if entry.quantity != nil && spec.Quantity != nil {
			*entry.quantity -= *spec.Quantity
			if *entry.quantity <= 0 {
				delete(target, spec.ProcessorPriceID)
			}
			continue
		}
		delete(target, spec.ProcessorPriceID)
	}

	// 4. Diff target against current.
	currentByPrice := make(map[string]processordomain.SubscriptionItem, len(current))
	for _, item := range current {
		currentByPrice[item.PriceID] = item
	}

	var changes []processordomain.ItemChange
	seen := map[string]bool{}
	for _, priceID := range order {
		if seen[priceID] {
			continue
		}
		seen[priceID] = true

		entry, ok := target[priceID]
		if !ok {
			continue
		}
		cur, exists := currentByPrice[priceID]
		if !exists {
			changes = append(changes, processordomain.ItemChange{
				Op:       processordomain.ItemOpAdd,
				PriceID:  priceID,
				Quantity: entry.quantity,
			})
			continue
		}
		if quantityChanged(cur.Quantity, entry.quantity) {
			changes = append(changes, processordomain.ItemChange{
				Op:       processordomain.ItemOpUpdate,
				ItemID:   cur.ID,
				PriceID:  priceID,
				Quantity: entry.quantity,
			})
		}
	}
	for _, item := range current {
		if _, ok := target[item.PriceID]; !ok {
			changes = append(changes, processordomain.ItemChange{
				Op:      processordomain.ItemOpDelete,
				ItemID:  item.ID,
				PriceID: item.PriceID,
			})
		}
	}
	return changes
}

func quantityChanged(current, desired *int64) bool {
	if current == nil || desired == nil {
		// Metered lines carry no quantity; presence alone matters.
		return false
	}
	return *current != *desired
}
