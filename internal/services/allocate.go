package loyalty

// Пропорциональное распределение суммы по весам.
// Сумма долей всегда равна target (после ограничения суммой весов),
// остаток раздается по одной единице только позициям с положительным весом.
func AllocateProRata(weights []int64, target int64) []int64 {
	res := make([]int64, len(weights))
	if target <= 0 {
		return res
	}
	var sum int64
	for _, w := range weights {
		if w > 0 {
			sum += w
		}
	}
	if sum <= 0 {
		return res
	}
	if target > sum {
		target = sum
	}
	var allocated int64
	for i, w := range weights {
		if w <= 0 {
			continue
		}
		res[i] = w * target / sum
		allocated += res[i]
	}
	// остаток по кругу
	for allocated < target {
		moved := false
		for i, w := range weights {
			if allocated >= target {
				break
			}
			if w <= 0 || res[i] >= w {
				continue
			}
			res[i]++
			allocated++
			moved = true
		}
		if !moved {
			break
		}
	}
	return res
}

// Распределение итоговой суммы начисления обратно по позициям,
// когда дневной лимит уменьшил общий итог
func AllocateByWeight(weights []int64, total int64) []int64 {
	return AllocateProRata(weights, total)
}

// Пропорциональное распределение с потолками на позицию.
// Срезание доли одной позиции меняет справедливую долю остальных,
// поэтому освободившаяся емкость предлагается заново по кругам.
func AllocateProRataWithCaps(weights []int64, caps []int64, target int64) []int64 {
	res := make([]int64, len(weights))
	if target <= 0 || len(weights) == 0 {
		return res
	}
	remCap := make([]int64, len(weights))
	for i := range weights {
		if i < len(caps) && caps[i] > 0 {
			remCap[i] = caps[i]
		}
	}
	remaining := target
	for remaining > 0 {
		var idx []int
		var active []int64
		for i, w := range weights {
			if w > 0 && remCap[i] > 0 {
				idx = append(idx, i)
				active = append(active, w)
			}
		}
		if len(idx) == 0 {
			break
		}
		shares := AllocateProRata(active, remaining)
		clipped := false
		var assigned int64
		for k, i := range idx {
			s := shares[k]
			if s > remCap[i] {
				s = remCap[i]
				clipped = true
			}
			res[i] += s
			remCap[i] -= s
			assigned += s
		}
		remaining -= assigned
		if !clipped || assigned == 0 {
			break
		}
	}
	return res
}

// Потолок списания на позицию
func RedeemCap(amount int64, redeemPercent int32, allowRedeem bool) int64 {
	if !allowRedeem || amount <= 0 {
		return 0
	}
	pct := int64(redeemPercent)
	if pct <= 0 || pct > 100 {
		pct = 100
	}
	return amount * pct / 100
}
