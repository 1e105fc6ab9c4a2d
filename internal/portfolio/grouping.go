package portfolio

// PrimaryGroup is a primary order together with every descendant order
type PrimaryGroup struct {
	Primary *Order
	Orders  []*Order
}

// PrimaryGroups groups the arena by PrimaryID in creation order
func (ol *Orders) PrimaryGroups() []PrimaryGroup {
	index := make(map[string]int)
	var groups []PrimaryGroup
	for _, o := range ol.All() {
		key := o.PrimaryID.String()
		i, ok := index[key]
		if !ok {
			i = len(groups)
			index[key] = i
			groups = append(groups, PrimaryGroup{Primary: ol.Primary(o)})
		}
		groups[i].Orders = append(groups[i].Orders, o)
	}
	return groups
}

// FilledQty returns filled buy and sell quantities within the group
func (g PrimaryGroup) FilledQty() (buyQty, sellQty int) {
	for _, o := range g.Orders {
		if o.FilledQty == 0 {
			continue
		}
		if o.IsBuy() {
			buyQty += o.FilledQty
		} else {
			sellQty += o.FilledQty
		}
	}
	return buyQty, sellQty
}

// Profit returns filled sell USD minus filled buy USD within the group
func (g PrimaryGroup) Profit() float64 {
	p := 0.0
	for _, o := range g.Orders {
		if o.IsBuy() {
			p -= o.FilledUSD()
		} else {
			p += o.FilledUSD()
		}
	}
	return p
}
