package normalize

import (
	"strings"

	"example.com/wearablesync/internal/domain"
)

type sport struct {
	name     string
	activity domain.ActivityType
}

// sports maps vendor sport ids to their display name and canonical activity type.
var sports = map[int]sport{
	-1:  {"Activity", domain.ActivityGeneral},
	0:   {"Running", domain.ActivityRunning},
	1:   {"Cycling", domain.ActivityCycling},
	16:  {"Baseball", domain.ActivityTeamSport},
	17:  {"Basketball", domain.ActivityTeamSport},
	18:  {"Rowing", domain.ActivityRowing},
	19:  {"Fencing", domain.ActivityCombat},
	20:  {"Field Hockey", domain.ActivityTeamSport},
	21:  {"Football", domain.ActivityTeamSport},
	22:  {"Golf", domain.ActivityOther},
	24:  {"Ice Hockey", domain.ActivityTeamSport},
	25:  {"Lacrosse", domain.ActivityTeamSport},
	27:  {"Rugby", domain.ActivityTeamSport},
	28:  {"Sailing", domain.ActivityWaterSport},
	29:  {"Skiing", domain.ActivityWinterSport},
	30:  {"Soccer", domain.ActivityTeamSport},
	31:  {"Softball", domain.ActivityTeamSport},
	32:  {"Squash", domain.ActivityRacketSport},
	33:  {"Swimming", domain.ActivitySwimming},
	34:  {"Tennis", domain.ActivityRacketSport},
	35:  {"Track & Field", domain.ActivityRunning},
	36:  {"Volleyball", domain.ActivityTeamSport},
	37:  {"Water Polo", domain.ActivityWaterSport},
	38:  {"Wrestling", domain.ActivityCombat},
	39:  {"Boxing", domain.ActivityCombat},
	42:  {"Dance", domain.ActivityGeneral},
	43:  {"Pilates", domain.ActivityYoga},
	44:  {"Yoga", domain.ActivityYoga},
	45:  {"Weightlifting", domain.ActivityStrength},
	47:  {"Cross Country Skiing", domain.ActivityWinterSport},
	48:  {"Functional Fitness", domain.ActivityHIIT},
	49:  {"Duathlon", domain.ActivityRunning},
	51:  {"Gymnastics", domain.ActivityStrength},
	52:  {"Hiking/Rucking", domain.ActivityHiking},
	53:  {"Horseback Riding", domain.ActivityOther},
	55:  {"Kayaking", domain.ActivityWaterSport},
	56:  {"Martial Arts", domain.ActivityCombat},
	57:  {"Mountain Biking", domain.ActivityCycling},
	59:  {"Powerlifting", domain.ActivityStrength},
	60:  {"Rock Climbing", domain.ActivityStrength},
	61:  {"Paddleboarding", domain.ActivityWaterSport},
	62:  {"Triathlon", domain.ActivityRunning},
	63:  {"Walking", domain.ActivityWalking},
	64:  {"Surfing", domain.ActivityWaterSport},
	65:  {"Elliptical", domain.ActivityGeneral},
	66:  {"Stairmaster", domain.ActivityGeneral},
	70:  {"Meditation", domain.ActivityRecovery},
	71:  {"Other", domain.ActivityOther},
	73:  {"Diving", domain.ActivityWaterSport},
	82:  {"Ultimate", domain.ActivityTeamSport},
	83:  {"Climber", domain.ActivityGeneral},
	84:  {"Jumping Rope", domain.ActivityHIIT},
	85:  {"Australian Football", domain.ActivityTeamSport},
	86:  {"Skateboarding", domain.ActivityOther},
	88:  {"Ice Bath", domain.ActivityRecovery},
	89:  {"Commuting", domain.ActivityOther},
	91:  {"Snowboarding", domain.ActivityWinterSport},
	94:  {"Obstacle Course Racing", domain.ActivityRunning},
	96:  {"HIIT", domain.ActivityHIIT},
	97:  {"Spin", domain.ActivityCycling},
	98:  {"Jiu Jitsu", domain.ActivityCombat},
	99:  {"Manual Labor", domain.ActivityOther},
	100: {"Cricket", domain.ActivityTeamSport},
	101: {"Pickleball", domain.ActivityRacketSport},
	102: {"Inline Skating", domain.ActivityOther},
	103: {"Box Fitness", domain.ActivityHIIT},
	106: {"Paddle Tennis", domain.ActivityRacketSport},
	107: {"Barre", domain.ActivityStrength},
	121: {"Massage Therapy", domain.ActivityRecovery},
	123: {"Strength Trainer", domain.ActivityStrength},
	126: {"Assault Bike", domain.ActivityHIIT},
	127: {"Kickboxing", domain.ActivityCombat},
	128: {"Stretching", domain.ActivityRecovery},
	230: {"Table Tennis", domain.ActivityRacketSport},
	231: {"Badminton", domain.ActivityRacketSport},
	232: {"Netball", domain.ActivityTeamSport},
	233: {"Sauna", domain.ActivityRecovery},
	239: {"Ice Skating", domain.ActivityWinterSport},
	240: {"Handball", domain.ActivityTeamSport},
}

var sportsByName = func() map[string]domain.ActivityType {
	out := make(map[string]domain.ActivityType, len(sports))
	for _, s := range sports {
		out[nameKey(s.name)] = s.activity
	}
	return out
}()

// SportName returns the vendor display name for a sport id.
func SportName(id int) string {
	if s, ok := sports[id]; ok {
		return s.name
	}
	return "Unknown"
}

// ActivityForSport maps a vendor sport id onto the canonical activity type.
func ActivityForSport(id int) domain.ActivityType {
	if s, ok := sports[id]; ok {
		return s.activity
	}
	return domain.ActivityOther
}

// ActivityForName maps a v2 sport name ("weightlifting", "Track & Field") onto the
// canonical activity type.
func ActivityForName(name string) domain.ActivityType {
	if activity, ok := sportsByName[nameKey(name)]; ok {
		return activity
	}
	return domain.ActivityOther
}

func nameKey(name string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(name) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		}
	}
	return b.String()
}
