package checkin

const venueDetailsSQL = `
select
    min(created) as first,
    max(created) as last,
    count(venues.id) as count,
    group_concat(distinct categories.name) as venue_categories,
    venues.*
from venues
    join checkins on checkins.venue = venues.id
    join categories_venues on venues.id = categories_venues.venues_id
    join categories on categories.id = categories_venues.categories_id
group by venues.id
`

const checkinDetailsSQL = `
select
    checkins.id,
    created,
    venues.id as venue_id,
    venues.name as venue_name,
    venues.latitude,
    venues.longitude,
    group_concat(categories.name) as venue_categories,
    shout,
    createdBy,
    events.name as event_name
from checkins
    join venues on checkins.venue = venues.id
    left join events on checkins.event = events.id
    join categories_venues on venues.id = categories_venues.venues_id
    join categories on categories.id = categories_venues.categories_id
group by checkins.id
order by createdAt desc
`

// View names created by Manager.CreateViews.
const (
	VenueDetailsView   = "venue_details"
	CheckinDetailsView = "checkin_details"
)

var views = []struct {
	name  string
	query string
}{
	{VenueDetailsView, venueDetailsSQL},
	{CheckinDetailsView, checkinDetailsSQL},
}
