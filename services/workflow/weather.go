package workflow

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/tidwall/gjson"
)

var errNoTemperature = errors.New("weather API response has no temperature")

const openMeteoEndpoint = "https://api.open-meteo.com/v1/forecast?latitude={lat}&longitude={lon}&current_weather=true"

// executeWeather fetches the current temperature from Open-Meteo for each
// item and adds it to the item's fields. Coordinates come from "latitude"
// and "longitude", or from the "options" entry whose city matches the
// "city" parameter.
func executeWeather(ec *ExecutionContext) ([][]ExecutionItem, error) {
	var out []ExecutionItem
	err := ec.EachItem(func(i int, item ExecutionItem) error {
		city, err := ec.GetNodeParameterString("city", "")
		if err != nil {
			return err
		}
		lat, lon, err := coordinates(ec, city)
		if err != nil {
			return err
		}
		endpoint, err := ec.GetNodeParameterString("apiEndpoint", openMeteoEndpoint)
		if err != nil {
			return err
		}
		url := strings.NewReplacer(
			"{lat}", strconv.FormatFloat(lat, 'f', 4, 64),
			"{lon}", strconv.FormatFloat(lon, 'f', 4, 64),
		).Replace(endpoint)

		resp, err := ec.Helpers().Request(RequestOptions{Method: http.MethodGet, URL: url})
		if err != nil {
			return fmt.Errorf("weather API request failed: %w", err)
		}
		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("weather API returned status %d", resp.StatusCode)
		}
		temp := gjson.GetBytes(resp.Body, "current_weather.temperature")
		if !temp.Exists() {
			return errNoTemperature
		}
		temperature := temp.Float()

		location := city
		if location == "" {
			location = fmt.Sprintf("%.4f,%.4f", lat, lon)
		}
		ec.Logger().Info("Fetched temperature", "location", location, "temperature", temperature)

		res := deepCopyMap(item.JSON)
		res["message"] = fmt.Sprintf("Current temperature in %s: %.1f°C", location, temperature)
		res["temperature"] = temperature
		res["location"] = location
		res["apiResponse"] = map[string]any{
			"endpoint":   url,
			"method":     http.MethodGet,
			"statusCode": resp.StatusCode,
		}
		out = append(out, ExecutionItem{JSON: res, PairedItem: &PairedItem{Item: i}})
		return nil
	})
	if err != nil {
		return nil, err
	}
	if out == nil {
		out = []ExecutionItem{}
	}
	return [][]ExecutionItem{out}, nil
}

func coordinates(ec *ExecutionContext, city string) (float64, float64, error) {
	latRaw, err := ec.GetNodeParameter("latitude", nil)
	if err != nil {
		return 0, 0, err
	}
	lonRaw, err := ec.GetNodeParameter("longitude", nil)
	if err != nil {
		return 0, 0, err
	}
	if latRaw != nil && lonRaw != nil {
		lat, okLat := toFloat64(latRaw)
		lon, okLon := toFloat64(lonRaw)
		if !okLat || !okLon {
			return 0, 0, validationErrorf(ec.Node().ID, "invalid coordinates")
		}
		return lat, lon, nil
	}

	raw, err := ec.GetNodeParameter("options", nil)
	if err != nil {
		return 0, 0, err
	}
	options, _ := raw.([]any)
	for _, opt := range options {
		m, ok := opt.(map[string]any)
		if !ok {
			continue
		}
		if name, _ := m["city"].(string); strings.EqualFold(name, city) {
			lat, okLat := toFloat64(m["lat"])
			lon, okLon := toFloat64(m["lon"])
			if !okLat || !okLon {
				return 0, 0, validationErrorf(ec.Node().ID, "invalid coordinates for city %q", city)
			}
			return lat, lon, nil
		}
	}
	return 0, 0, validationErrorf(ec.Node().ID, "city %q not found in available options", city)
}
