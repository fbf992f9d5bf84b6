package cowin

import (
	"context"
	"fmt"
	"net/url"
	"strconv"

	"github.com/csfx-py/vaccine-tracker/internal/domain"
)

type wireSession struct {
	SessionID         string   `json:"session_id"`
	Date              string   `json:"date"`
	AvailableCapacity float64  `json:"available_capacity"`
	Dose1             float64  `json:"available_capacity_dose1"`
	Dose2             float64  `json:"available_capacity_dose2"`
	MinAgeLimit       int      `json:"min_age_limit"`
	AllowAllAge       bool     `json:"allow_all_age"`
	Vaccine           string   `json:"vaccine"`
	Slots             []string `json:"slots"`
}

type wireCenter struct {
	CenterID int           `json:"center_id"`
	Name     string        `json:"name"`
	Address  string        `json:"address"`
	Pincode  int           `json:"pincode"`
	FeeType  string        `json:"fee_type"`
	Sessions []wireSession `json:"sessions"`
}

func (w wireCenter) toDomain() domain.Center {
	c := domain.Center{
		ID:       w.CenterID,
		Name:     w.Name,
		Address:  w.Address,
		Pincode:  fmt.Sprintf("%06d", w.Pincode),
		FeeType:  w.FeeType,
		Sessions: make([]domain.Session, 0, len(w.Sessions)),
	}
	for _, s := range w.Sessions {
		c.Sessions = append(c.Sessions, domain.Session{
			ID:                s.SessionID,
			Date:              s.Date,
			AvailableCapacity: int(s.AvailableCapacity),
			Dose1Capacity:     int(s.Dose1),
			Dose2Capacity:     int(s.Dose2),
			MinAgeLimit:       s.MinAgeLimit,
			AllowAllAge:       s.AllowAllAge,
			Vaccine:           s.Vaccine,
			Slots:             s.Slots,
		})
	}
	return c
}

// FetchListings returns the week's calendar of a district, starting today
// in the provider's timezone.
func (c *Client) FetchListings(ctx context.Context, districtID int) ([]domain.Center, error) {
	q := url.Values{}
	q.Set("district_id", strconv.Itoa(districtID))
	q.Set("date", c.now().In(c.loc).Format(domain.DateLayout))

	var resp struct {
		Centers []wireCenter `json:"centers"`
	}
	if err := c.get(ctx, "/v2/appointment/sessions/public/calendarByDistrict?"+q.Encode(), "", &resp); err != nil {
		return nil, fmt.Errorf("district %d: %w", districtID, err)
	}

	centers := make([]domain.Center, 0, len(resp.Centers))
	for _, w := range resp.Centers {
		centers = append(centers, w.toDomain())
	}
	return centers, nil
}

// State is a provider state entry.
type State struct {
	ID   int    `json:"state_id"`
	Name string `json:"state_name"`
}

// District is a provider district entry.
type District struct {
	ID   int    `json:"district_id"`
	Name string `json:"district_name"`
}

// States lists the provider's states.
func (c *Client) States(ctx context.Context) ([]State, error) {
	var resp struct {
		States []State `json:"states"`
	}
	if err := c.get(ctx, "/v2/admin/location/states", "", &resp); err != nil {
		return nil, err
	}
	return resp.States, nil
}

// Districts lists the districts of a state.
func (c *Client) Districts(ctx context.Context, stateID int) ([]District, error) {
	var resp struct {
		Districts []District `json:"districts"`
	}
	if err := c.get(ctx, "/v2/admin/location/districts/"+strconv.Itoa(stateID), "", &resp); err != nil {
		return nil, err
	}
	return resp.Districts, nil
}

// Centers lists the distinct centers currently published for a district.
func (c *Client) Centers(ctx context.Context, districtID int) ([]domain.Center, error) {
	listings, err := c.FetchListings(ctx, districtID)
	if err != nil {
		return nil, err
	}
	out := make([]domain.Center, 0, len(listings))
	for _, l := range listings {
		l.Sessions = nil
		out = append(out, l)
	}
	return out, nil
}
